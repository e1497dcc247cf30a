package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/promptlab/backend/internal/database"
	"github.com/promptlab/backend/internal/models"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	// Claude 4.5 models reject requests that set both temperature and
	// top_p, so the default stays on a model that accepts the pair.
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultSQLitePath     = "db.sqlite"
)

type Config struct {
	Port   string `env:"PORT" envDefault:"4000" validate:"required,numeric"`
	AppEnv string `env:"APP_ENV" envDefault:"development" validate:"oneof=development production test"`

	// DatabaseURL is a postgres:// URL or a SQLite path. When empty, DB_HOST
	// selects Postgres and otherwise DefaultSQLitePath is used.
	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST"`
	DBPort      string `env:"DB_PORT" envDefault:"5432"`
	DBUser      string `env:"DB_USER" envDefault:"postgres"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBName      string `env:"DB_NAME" envDefault:"promptlab"`
	DBSSLMode   string `env:"DB_SSLMODE" envDefault:"disable"`

	LLMProvider      string        `env:"LLM_PROVIDER" envDefault:"openai" validate:"oneof=openai anthropic"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	AnthropicAPIKey  string        `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string        `env:"ANTHROPIC_BASE_URL" validate:"omitempty,url"`
	DefaultModel     string        `env:"DEFAULT_MODEL"`
	BackendTimeout   time.Duration `env:"BACKEND_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	MaxRetries       int           `env:"LLM_MAX_RETRIES" envDefault:"2" validate:"min=0,max=10"`

	GenerationConcurrency int `env:"GENERATION_CONCURRENCY" envDefault:"4" validate:"min=1,max=64"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from vars instead of the environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsTest() bool {
	return c.AppEnv == EnvTest
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// DatabaseTarget is the URL handed to database.Connect.
func (c *Config) DatabaseTarget() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost != "" {
		return database.PostgresDSN(c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
	}
	return DefaultSQLitePath
}

// APIKey returns the credential for the selected provider.
func (c *Config) APIKey() string {
	if c.LLMProvider == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

func (c *Config) BaseURL() string {
	if c.LLMProvider == ProviderAnthropic {
		return c.AnthropicBaseURL
	}
	return c.OpenAIBaseURL
}

// LiveBackendEnabled reports whether generation should call the live
// provider. Test mode always uses the fallback synthesizer.
func (c *Config) LiveBackendEnabled() bool {
	return c.APIKey() != "" && !c.IsTest()
}

// Model is the default model for requests that name none.
func (c *Config) Model() string {
	if c.DefaultModel != "" {
		return c.DefaultModel
	}
	if c.LLMProvider == ProviderAnthropic {
		return DefaultAnthropicModel
	}
	return models.DefaultModel
}
