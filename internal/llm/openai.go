package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var openAICompatibleURLs = map[ProviderType]string{
	ProviderGroq:       "https://api.groq.com/openai/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
}

var openAICompatibleModels = map[ProviderType]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderGroq:       "llama-3.3-70b-versatile",
	ProviderOpenRouter: "meta-llama/llama-3.3-70b-instruct:free",
}

// OpenAIConfig for any OpenAI compatible chat completions endpoint
type OpenAIConfig struct {
	Flavor    ProviderType // openai, groq or openrouter
	APIKey    string
	ModelName string
	BaseURL   string
	MaxTokens int
}

// OpenAIClient covers OpenAI, Groq and OpenRouter
type OpenAIClient struct {
	client    *openai.Client
	flavor    ProviderType
	modelName string
	baseURL   string
	maxTokens int
	logger    *zap.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Flavor == "" {
		cfg.Flavor = ProviderOpenAI
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Flavor, ErrMissingAPIKey)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = openAICompatibleModels[cfg.Flavor]
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAICompatibleURLs[cfg.Flavor]
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger.Info("OpenAI compatible client initialized",
		zap.String("flavor", string(cfg.Flavor)),
		zap.String("model", cfg.ModelName))

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientCfg),
		flavor:    cfg.Flavor,
		modelName: cfg.ModelName,
		baseURL:   clientCfg.BaseURL,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.modelName,
		MaxTokens:   c.maxTokens,
		Temperature: 0.2,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("Chat completion failed",
			zap.String("flavor", string(c.flavor)),
			zap.Error(err))
		return "", fmt.Errorf("%s API call failed: %w", c.flavor, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", c.flavor)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Close() error {
	return nil
}

func (c *OpenAIClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(c.flavor),
		"model":    c.modelName,
		"base_url": c.baseURL,
	}
}
