package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiConfig for the Gemini client
type GeminiConfig struct {
	APIKey    string
	ModelName string // Default: "gemini-2.0-flash"
	MaxTokens int
}

// GeminiClient wraps the Gemini API client
type GeminiClient struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	logger    *zap.Logger
	modelName string
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.GenerationConfig = generationConfig(cfg.MaxTokens)

	logger.Info("Gemini client initialized", zap.String("model", cfg.ModelName))

	return &GeminiClient{
		client:    client,
		model:     model,
		logger:    logger,
		modelName: cfg.ModelName,
	}, nil
}

// Complete replays all but the last message as chat history and sends the last one
func (c *GeminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("gemini: no messages to send")
	}

	cs := c.model.StartChat()
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(messages[len(messages)-1].Content))
	if err != nil {
		c.logger.Error("Gemini API error", zap.Error(err))
		return "", fmt.Errorf("gemini API error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from gemini")
	}
	return sb.String(), nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func (c *GeminiClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": string(ProviderGemini),
		"model":    c.modelName,
	}
}

// generationConfig asks for low-temperature JSON output
func generationConfig(maxTokens int) genai.GenerationConfig {
	return genai.GenerationConfig{
		Temperature:      genai.Ptr[float32](0.2),
		MaxOutputTokens:  genai.Ptr(int32(maxTokens)),
		ResponseMIMEType: "application/json",
	}
}
