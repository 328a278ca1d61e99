// Package generate produces Markdown test-case documents, either from a
// deterministic stub template or from a hosted completion backend.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tcwright/internal/config"
)

// Completer is the interface for completion backends.
type Completer interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrUnconfigured is returned when AI generation is requested but no
// backend is configured.
var ErrUnconfigured = errors.New("generation backend not configured")

// ErrRateLimited is returned once the rate-limit retry budget is spent.
var ErrRateLimited = errors.New("rate limited by model")

// UpstreamError carries a completion backend failure together with the
// upstream HTTP status where one is known.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// Retry policy for rate-limited calls: two extra attempts with linear
// backoff. All other failures are surfaced on the first attempt.
const (
	rateLimitRetries = 2
	backoffStep      = 1500 * time.Millisecond
)

// NewCompleter builds the configured provider, or nil when the provider is
// "stub" (or empty), which keeps the stub path free of network dependencies.
func NewCompleter(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "stub":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrUnconfigured)
		}
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			oc.Timeout = d
		}
		return NewOpenAIClient(oc, logger), nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", ErrUnconfigured)
		}
		gc := DefaultGeminiConfig(cfg.APIKey)
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		return NewGeminiClient(ctx, gc, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnconfigured, cfg.Provider)
	}
}
