package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderGemini     ProviderType = "gemini"
	ProviderOpenAI     ProviderType = "openai"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
)

// Message roles understood by every provider
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxTokens bounds every completion
const DefaultMaxTokens = 800

// ErrMissingAPIKey is returned when a provider is configured without credentials
var ErrMissingAPIKey = errors.New("llm: api key is required")

// Message is one turn of a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProviderConfig holds configuration for a single provider instance
type ProviderConfig struct {
	Type      ProviderType  `yaml:"provider"`
	APIKey    string        `yaml:"api_key"`
	ModelName string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider is anything that can complete a conversation.
// Implementations do not retry: a failed call is reported as is.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// StatusError is a non-2xx answer from a provider endpoint
type StatusError struct {
	Provider   ProviderType
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NewProvider builds the configured provider wrapped with rate limiting
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var (
		provider Provider
		err      error
	)
	switch cfg.Type {
	case ProviderAnthropic, "":
		provider, err = NewAnthropicClient(AnthropicConfig{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}, logger)
	case ProviderGemini:
		provider, err = NewGeminiClient(GeminiConfig{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	case ProviderOpenAI, ProviderGroq, ProviderOpenRouter:
		provider, err = NewOpenAIClient(OpenAIConfig{
			Flavor:    cfg.Type,
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute <= 0 {
		return provider, nil
	}
	logger.Info("Provider initialized",
		zap.String("type", string(cfg.Type)),
		zap.String("model", cfg.ModelName),
		zap.Int("rate_limit", cfg.RequestsPerMinute))
	return NewRateLimitedProvider(provider, cfg.RequestsPerMinute, logger), nil
}

// Unavailable is a provider that always fails with the same error.
// It stands in when the real provider could not be constructed, for example
// because credentials are missing, so callers take their fallback path.
type Unavailable struct {
	Err error
}

func NewUnavailable(err error) *Unavailable {
	if err == nil {
		err = ErrMissingAPIKey
	}
	return &Unavailable{Err: err}
}

func (u *Unavailable) Complete(context.Context, []Message) (string, error) {
	return "", u.Err
}

func (u *Unavailable) Close() error { return nil }

func (u *Unavailable) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "unavailable",
		"error":    u.Err.Error(),
	}
}
