package experiments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlab/backend/internal/generator"
	"github.com/promptlab/backend/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := generator.New(generator.Options{
		Fallback: generator.NewFallback(rand.NewSource(1)),
		Logger:   logger,
	})
	return NewService(NewStore(newTestDB(t)), gen, logger)
}

func intPtr(v int) *int { return &v }

func summariseTDD() models.GenerateRequest {
	return models.GenerateRequest{
		Prompt: "Summarise TDD",
		Parameters: models.SamplingParameters{
			Temperature: []float64{0.3, 0.7},
			TopP:        []float64{0.8, 1.0},
		},
		N: intPtr(2),
	}
}

func TestService_GenerateEndToEnd(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Generate(ctx, summariseTDD())
	require.NoError(t, err)

	assert.NotEmpty(t, result.ExperimentID)
	assert.Equal(t, "Summarise TDD", result.Prompt)
	assert.Len(t, result.ParameterSets, 4)
	assert.Len(t, result.Responses, 8)
	assert.Equal(t, 8, result.Metadata.Total)
	assert.False(t, result.Metadata.UsingLiveModel)
	assert.False(t, result.Metadata.GeneratedAt.IsZero())

	for _, r := range result.Responses {
		assert.Equal(t, result.ExperimentID, r.ExperimentID)
		assert.Contains(t, result.ParameterSets, r.ParameterSet)
		assert.Equal(t, generator.AggregateScore(r.Metrics), r.Metrics.Score)
	}

	listed, err := svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, result.ExperimentID, listed[0].ID)
	assert.True(t, strings.HasPrefix(listed[0].Name, "New Experiment "))
	assert.Equal(t, models.DefaultModel, listed[0].Model)

	stored, err := svc.Get(ctx, result.ExperimentID)
	require.NoError(t, err)
	require.Len(t, stored.Responses, 8)
	for i, r := range stored.Responses {
		assert.Equal(t, result.Responses[i].ID, r.ID)
		assert.Equal(t, result.Responses[i].Text, r.Text)
	}
}

func TestService_GenerateDefaults(t *testing.T) {
	svc := newTestService(t)

	req := summariseTDD()
	req.N = nil
	req.Parameters.Temperature = []float64{1}
	req.Parameters.TopP = []float64{1}

	result, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, result.Responses, models.DefaultVariations)
	assert.Equal(t, models.DefaultVariations, result.ParameterSets[0].Variations)
}

func TestService_GenerateValidation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*models.GenerateRequest)
		field string
	}{
		{"empty prompt", func(r *models.GenerateRequest) { r.Prompt = "" }, "prompt"},
		{"blank prompt", func(r *models.GenerateRequest) { r.Prompt = "   " }, "prompt"},
		{"no temperatures", func(r *models.GenerateRequest) { r.Parameters.Temperature = nil }, "parameters.temperature"},
		{"empty temperatures", func(r *models.GenerateRequest) { r.Parameters.Temperature = []float64{} }, "parameters.temperature"},
		{"temperature too high", func(r *models.GenerateRequest) { r.Parameters.Temperature = []float64{0.5, 2.5} }, "parameters.temperature[1]"},
		{"negative temperature", func(r *models.GenerateRequest) { r.Parameters.Temperature = []float64{-0.1} }, "parameters.temperature[0]"},
		{"top_p too high", func(r *models.GenerateRequest) { r.Parameters.TopP = []float64{1.5} }, "parameters.top_p[0]"},
		{"no top_p", func(r *models.GenerateRequest) { r.Parameters.TopP = nil }, "parameters.top_p"},
		{"zero variations", func(r *models.GenerateRequest) { r.N = intPtr(0) }, "n"},
		{"too many variations", func(r *models.GenerateRequest) { r.N = intPtr(9) }, "n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			req := summariseTDD()
			tt.edit(&req)

			_, err := svc.Generate(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Details, tt.field)

			listed, err := svc.List(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, listed, "nothing is persisted for an invalid request")
		})
	}
}

func TestService_GenerateBoundaryValues(t *testing.T) {
	svc := newTestService(t)

	req := summariseTDD()
	req.Parameters.Temperature = []float64{0, 2}
	req.Parameters.TopP = []float64{0, 1}
	req.N = intPtr(models.MaxVariations)

	result, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, result.Responses, 4*models.MaxVariations)
}

func TestService_RenameRequiresName(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Rename(context.Background(), "any", "  ")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestService_Export(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Generate(ctx, summariseTDD())
	require.NoError(t, err)

	exp, payload, err := svc.Export(ctx, result.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, result.ExperimentID, payload.Metadata.ID)
	assert.Equal(t, exp.Name, payload.Metadata.Name)
	assert.Equal(t, "Summarise TDD", payload.Metadata.Prompt)
	assert.True(t, exp.CreatedAt.Equal(payload.Metadata.GeneratedAt))
	assert.Len(t, payload.Responses, 8)

	_, _, err = svc.Export(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// slowFirstBackend answers low-temperature cells last.
type slowFirstBackend struct{}

func (slowFirstBackend) Name() string { return "slow-first" }

func (slowFirstBackend) Complete(ctx context.Context, req generator.CompletionRequest) ([]string, error) {
	time.Sleep(time.Duration((1-req.Temperature)*60) * time.Millisecond)
	texts := make([]string, req.CandidateCount)
	for i := range texts {
		texts[i] = fmt.Sprintf("Answer %d for %.1f/%.1f. Tests first. Code second.", i, req.Temperature, req.TopP)
	}
	return texts, nil
}

func TestService_ConcurrentRunPersistsGridOrder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := generator.New(generator.Options{
		Backend:     slowFirstBackend{},
		Logger:      logger,
		Concurrency: 4,
	})
	svc := NewService(NewStore(newTestDB(t)), gen, logger)
	ctx := context.Background()

	result, err := svc.Generate(ctx, summariseTDD())
	require.NoError(t, err)

	stored, err := svc.Get(ctx, result.ExperimentID)
	require.NoError(t, err)
	require.Len(t, stored.Responses, len(result.Responses))
	for i, r := range stored.Responses {
		want := result.Responses[i]
		assert.Equal(t, want.ID, r.ID, "position %d", i)
		assert.Equal(t, result.ParameterSets[i/2], r.ParameterSet, "position %d", i)
		assert.Equal(t, i%2, r.VariationIndex, "position %d", i)
	}
}

func TestService_PromptStoredAsSubmitted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := summariseTDD()
	req.Prompt = "  Summarise TDD\n"

	result, err := svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "  Summarise TDD\n", result.Prompt)

	stored, err := svc.Get(ctx, result.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, "  Summarise TDD\n", stored.Prompt)

	_, payload, err := svc.Export(ctx, result.ExperimentID)
	require.NoError(t, err)
	assert.Equal(t, "  Summarise TDD\n", payload.Metadata.Prompt)
}
