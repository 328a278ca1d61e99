package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey: apiKey,
		Model:  "gemini-2.0-flash",
	}
}

// GeminiClient implements Completer on the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key missing", ErrUnconfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	model := config.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{client: client, model: model, logger: logger}, nil
}

// CompleteWithSystem implements Completer with the same 429 retry policy as
// the OpenAI client.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
		MaxOutputTokens:   maxOutputTokens,
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * backoffStep)
		}

		result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) {
				if apiErr.Code == http.StatusTooManyRequests {
					if attempt == rateLimitRetries {
						return "", fmt.Errorf("%w after %d attempts", ErrRateLimited, attempt+1)
					}
					c.logger.Warn("gemini rate limited, retrying", zap.Int("attempt", attempt+1))
					continue
				}
				return "", &UpstreamError{Status: apiErr.Code, Message: apiErr.Message}
			}
			return "", &UpstreamError{Status: 0, Message: err.Error()}
		}

		text := result.Text()
		if text == "" {
			return "", &UpstreamError{Status: 0, Message: "empty completion from Gemini"}
		}
		return text, nil
	}
}
