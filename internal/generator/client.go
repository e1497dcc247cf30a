package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	openai "github.com/sashabaranov/go-openai"
)

// SystemInstruction is sent with every live completion request.
const SystemInstruction = "You are an AI assistant helping researchers evaluate sampling parameters. Provide thorough, factual answers with clear structure."

// MaxCandidatesPerCall caps the candidates requested in a single live call.
const MaxCandidatesPerCall = 5

// ErrSamplingConflict is returned when the model refuses requests that set
// both temperature and top_p.
var ErrSamplingConflict = errors.New("model does not accept temperature and top_p together")

// Backend is a remote text-generation service. Complete returns the
// candidate texts in the order the backend produced them.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) ([]string, error)
}

// CompletionRequest is one batched sampling call for a grid cell.
type CompletionRequest struct {
	Model             string
	Prompt            string
	SystemInstruction string
	Temperature       float64
	TopP              float64
	CandidateCount    int
}

// ClientOptions are shared by the live backends.
type ClientOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Zero
	// means a single attempt.
	MaxRetries int
	Logger     *slog.Logger
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ── OpenAIClient: chat completions with n candidates ───────

type OpenAIClient struct {
	client *openai.Client
	opts   ClientOptions
}

func NewOpenAIClient(opts ClientOptions) *OpenAIClient {
	opts = opts.withDefaults()
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) ([]string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: samplingValue(req.Temperature),
		TopP:        samplingValue(req.TopP),
		N:           req.CandidateCount,
	}

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, c.opts.MaxRetries, c.opts.Logger, c.Name(), func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		texts = append(texts, choice.Message.Content)
	}
	return texts, nil
}

// samplingValue maps an explicit zero to the smallest positive float32;
// go-openai drops zero-valued sampling fields and the API would then apply
// its own default of 1.
func samplingValue(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

// ── AnthropicClient: one message per candidate ─────────────

// AnthropicClient has no multi-candidate sampling, so a cell asking for k
// candidates issues k sequential requests.
type AnthropicClient struct {
	client    *anthropic.Client
	opts      ClientOptions
	maxTokens int64
}

func NewAnthropicClient(opts ClientOptions) *AnthropicClient {
	opts = opts.withDefaults()
	// Retries are handled by withRetry.
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey), option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(reqOpts...)
	return &AnthropicClient{client: &client, opts: opts, maxTokens: 2048}
}

func (c *AnthropicClient) Name() string {
	return "anthropic"
}

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) ([]string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   c.maxTokens,
		Temperature: param.NewOpt(req.Temperature),
		TopP:        param.NewOpt(req.TopP),
		System: []anthropic.TextBlockParam{
			{Text: req.SystemInstruction},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	texts := make([]string, 0, req.CandidateCount)
	for i := 0; i < req.CandidateCount; i++ {
		var message *anthropic.Message
		err := withRetry(ctx, c.opts.MaxRetries, c.opts.Logger, c.Name(), func() error {
			var callErr error
			message, callErr = c.client.Messages.New(ctx, params)
			return callErr
		})
		if isSamplingConflict(err) {
			c.opts.Logger.Error("model rejects temperature and top_p in the same request; choose a model that accepts both",
				"backend", c.Name(),
				"model", req.Model,
			)
			return nil, fmt.Errorf("candidate %d: %w: %w", i+1, ErrSamplingConflict, err)
		}
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i+1, err)
		}

		var text string
		for _, block := range message.Content {
			if block.Type == "text" {
				text = block.Text
				break
			}
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// ── shared helpers ─────────────────────────────────────────

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

var retryBackoff = func(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// withRetry makes up to retries+1 attempts. Client errors other than rate
// limits and timeouts end the loop at once.
func withRetry(ctx context.Context, retries int, logger *slog.Logger, backend string, call func() error) error {
	attempts := retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := retryBackoff(attempt)
			logger.Warn("retrying backend call", "backend", backend, "attempt", attempt+1, "wait", wait)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s API: %w", backend, ctx.Err())
			case <-time.After(wait):
			}
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}
		logger.Warn("backend call failed", "backend", backend, "attempt", attempt+1, "error", lastErr)
		if !retryable(lastErr) {
			return fmt.Errorf("%s API: %w", backend, lastErr)
		}
	}
	return fmt.Errorf("%s API failed after %d attempts: %w", backend, attempts, lastErr)
}

func statusCode(err error) int {
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode
	}
	var oerr *openai.APIError
	if errors.As(err, &oerr) {
		return oerr.HTTPStatusCode
	}
	var rerr *openai.RequestError
	if errors.As(err, &rerr) {
		return rerr.HTTPStatusCode
	}
	return 0
}

func retryable(err error) bool {
	code := statusCode(err)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	default:
		return code >= 500
	}
}

func isSamplingConflict(err error) bool {
	if err == nil || statusCode(err) != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "temperature") && strings.Contains(msg, "top_p")
}
