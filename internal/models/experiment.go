package models

import "time"

const (
	DefaultModel      = "gpt-4o-mini"
	DefaultVariations = 3
	MaxVariations     = 8
)

// ParameterSet is one grid cell: a (temperature, top-p) pair plus the number
// of samples to draw for it.
type ParameterSet struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	Variations  int     `json:"variations"`
}

// QualityMetrics holds the heuristic quality signals for one response.
// Score is always the rounded mean of the other five.
type QualityMetrics struct {
	Coherence    float64 `json:"coherence"`
	Completeness float64 `json:"completeness"`
	Redundancy   float64 `json:"redundancy"`
	Readability  float64 `json:"readability"`
	Structure    float64 `json:"structure"`
	Score        float64 `json:"score"`
}

type ScoredResponse struct {
	ID             string         `json:"id"`
	ExperimentID   string         `json:"experimentId,omitempty"`
	ParameterSet   ParameterSet   `json:"parameterSet"`
	VariationIndex int            `json:"variationIndex"`
	Text           string         `json:"text"`
	Metrics        QualityMetrics `json:"metrics"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Experiment is a persisted generation run. Responses is empty in summary
// views (list, rename).
type Experiment struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Prompt        string           `json:"prompt"`
	Model         string           `json:"model"`
	ParameterSets []ParameterSet   `json:"parameterSets"`
	Variations    int              `json:"variations"`
	CreatedAt     time.Time        `json:"createdAt"`
	Responses     []ScoredResponse `json:"responses,omitempty"`
}

// ── Request Types ────────────────────────────────────────

type SamplingParameters struct {
	Temperature []float64 `json:"temperature" validate:"required,min=1,dive,gte=0,lte=2"`
	TopP        []float64 `json:"top_p" validate:"required,min=1,dive,gte=0,lte=1"`
}

type GenerateRequest struct {
	Prompt     string             `json:"prompt" validate:"required"`
	Parameters SamplingParameters `json:"parameters"`
	N          *int               `json:"n,omitempty" validate:"omitnil,min=1,max=8"`
	Model      string             `json:"model,omitempty"`
}

// Variations returns the requested variation count, defaulting when absent.
func (r GenerateRequest) Variations() int {
	if r.N == nil {
		return DefaultVariations
	}
	return *r.N
}

// ModelName returns the requested model, or fallback when absent.
func (r GenerateRequest) ModelName(fallback string) string {
	if r.Model != "" {
		return r.Model
	}
	if fallback != "" {
		return fallback
	}
	return DefaultModel
}

type RenameRequest struct {
	Name string `json:"name"`
}

// ── Response Types ───────────────────────────────────────

type GenerateMetadata struct {
	Total          int       `json:"total"`
	GeneratedAt    time.Time `json:"generatedAt"`
	UsingLiveModel bool      `json:"usingLiveModel"`
}

type GenerateResult struct {
	ExperimentID  string           `json:"experimentId"`
	Prompt        string           `json:"prompt"`
	ParameterSets []ParameterSet   `json:"parameterSets"`
	Responses     []ScoredResponse `json:"responses"`
	Metadata      GenerateMetadata `json:"metadata"`
}

type ExperimentListResponse struct {
	Experiments []Experiment `json:"experiments"`
}

type ExperimentResponse struct {
	Experiment Experiment `json:"experiment"`
}

type ExportMetadata struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type ExportPayload struct {
	Metadata  ExportMetadata   `json:"metadata"`
	Responses []ScoredResponse `json:"responses"`
}

type HealthResponse struct {
	Status              string    `json:"status"`
	LiveModelConfigured bool      `json:"liveModelConfigured"`
	Timestamp           time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string              `json:"error"`
	Details map[string][]string `json:"details,omitempty"`
}
