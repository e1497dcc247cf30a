package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/promptlab/backend/internal/generator"
	"github.com/promptlab/backend/internal/models"
)

// ValidationError lists the request fields that failed validation, keyed by
// their JSON path.
type ValidationError struct {
	Details map[string][]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Details))
	for field := range e.Details {
		fields = append(fields, field)
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

type Service struct {
	store        *Store
	generator    *generator.Generator
	validate     *validator.Validate
	logger       *slog.Logger
	defaultModel string
	now          func() time.Time
	newID        func() string
}

func NewService(store *Store, gen *generator.Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		generator:    gen,
		validate:     newValidator(),
		logger:       logger,
		defaultModel: models.DefaultModel,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// SetDefaultModel sets the model used when a request names none.
func (s *Service) SetDefaultModel(model string) {
	if model != "" {
		s.defaultModel = model
	}
}

// LiveModelConfigured reports whether generation reaches a live backend.
func (s *Service) LiveModelConfigured() bool {
	return s.generator.Live()
}

// ── Generation ──────────────────────────────────────────

// Generate validates the request, expands the parameter grid, produces and
// scores every response, and persists the run as one experiment.
func (s *Service) Generate(ctx context.Context, req models.GenerateRequest) (*models.GenerateResult, error) {
	// Whitespace-only prompts are rejected; the prompt is kept as submitted.
	check := req
	check.Prompt = strings.TrimSpace(req.Prompt)
	if err := s.validateStruct(check); err != nil {
		return nil, err
	}

	variations := req.Variations()
	model := req.ModelName(s.defaultModel)
	grid := generator.BuildParameterGrid(req.Parameters.Temperature, req.Parameters.TopP, variations)

	start := time.Now()
	responses, err := s.generator.Generate(ctx, req.Prompt, model, grid)
	if err != nil {
		return nil, err
	}

	exp := models.Experiment{
		ID:            s.newID(),
		Prompt:        req.Prompt,
		Model:         model,
		ParameterSets: grid,
		Variations:    variations,
		CreatedAt:     s.now(),
	}
	if err := s.store.Save(ctx, &exp, responses); err != nil {
		return nil, fmt.Errorf("save experiment: %w", err)
	}

	s.logger.Info("experiment generated",
		"experiment_id", exp.ID,
		"model", model,
		"backend", s.generator.BackendName(),
		"parameter_sets", len(grid),
		"responses", len(responses),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &models.GenerateResult{
		ExperimentID:  exp.ID,
		Prompt:        exp.Prompt,
		ParameterSets: grid,
		Responses:     responses,
		Metadata: models.GenerateMetadata{
			Total:          len(responses),
			GeneratedAt:    s.now(),
			UsingLiveModel: s.generator.Live(),
		},
	}, nil
}

// ── Experiments ─────────────────────────────────────────

func (s *Service) List(ctx context.Context, limit int) ([]models.Experiment, error) {
	return s.store.List(ctx, limit)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Experiment, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Rename(ctx context.Context, id, name string) (*models.Experiment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Details: map[string][]string{"name": {"name is required"}}}
	}
	return s.store.Rename(ctx, id, name)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Export returns the experiment in the shape used for JSON downloads.
func (s *Service) Export(ctx context.Context, id string) (*models.Experiment, *models.ExportPayload, error) {
	exp, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return exp, &models.ExportPayload{
		Metadata: models.ExportMetadata{
			ID:          exp.ID,
			Name:        exp.Name,
			Prompt:      exp.Prompt,
			Model:       exp.Model,
			GeneratedAt: exp.CreatedAt,
		},
		Responses: exp.Responses,
	}, nil
}

// ── Validation ──────────────────────────────────────────

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) validateStruct(req models.GenerateRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}

	details := make(map[string][]string)
	for _, fe := range verrs {
		// Drop the root struct name from the namespace.
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		details[field] = append(details[field], validationMessage(fe))
	}
	return &ValidationError{Details: details}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s value(s)", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
