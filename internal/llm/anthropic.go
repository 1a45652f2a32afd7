package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"
	anthropicModel      = "claude-3-haiku-20240307"
)

// AnthropicConfig for the Messages API client
type AnthropicConfig struct {
	APIKey    string
	ModelName string
	BaseURL   string // full messages endpoint, overridable for tests
	MaxTokens int
	Timeout   time.Duration
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// AnthropicClient talks to the Messages endpoint over plain HTTP
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	modelName  string
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAnthropicClient creates a new client
func NewAnthropicClient(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = anthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicBaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Anthropic client initialized",
		zap.String("model", cfg.ModelName),
		zap.Int("max_tokens", cfg.MaxTokens))

	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		modelName:  cfg.ModelName,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Complete sends the conversation and returns content[0].text
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.modelName,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Anthropic API error", zap.Error(err))
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Anthropic API error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return "", &StatusError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse anthropic response: %w", err)
	}
	if len(out.Content) == 0 {
		return "", fmt.Errorf("empty response from anthropic")
	}

	c.logger.Debug("Anthropic completion received",
		zap.String("id", out.ID),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens))

	return out.Content[0].Text, nil
}

func (c *AnthropicClient) Close() error {
	return nil
}

func (c *AnthropicClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":   string(ProviderAnthropic),
		"model":      c.modelName,
		"max_tokens": c.maxTokens,
	}
}
