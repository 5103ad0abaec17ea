package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"gemchat/internal/config"
)

var (
	// ErrNotConfigured means the provider credential is missing or rejected.
	ErrNotConfigured = errors.New("ai provider not configured")
	// ErrQuotaExceeded means the provider reported rate or usage limiting.
	ErrQuotaExceeded = errors.New("ai provider quota exceeded")
	// ErrEmptyResponse means the provider answered without any text.
	ErrEmptyResponse = errors.New("ai provider returned an empty response")
	// ErrUpstream covers every other provider failure.
	ErrUpstream = errors.New("ai provider request failed")
)

// Gateway issues exactly one generation call per turn. Errors wrap one of
// the sentinel values above.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// NewGateway builds the gateway for the configured provider. A missing API
// key is not an error here: the gateway reports ErrNotConfigured per call so
// the service can start without credentials.
func NewGateway(ctx context.Context, cfg *config.Config) (Gateway, error) {
	provider, provCfg := cfg.Provider()

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "gemini":
		return NewGeminiGateway(ctx, provCfg)
	case "openai":
		if provCfg.APIKey == "" {
			return unconfiguredGateway{provider: provider}, nil
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     provCfg.BaseURL,
			Model:       provCfg.Model,
			APIKey:      provCfg.APIKey,
			Temperature: float32Ptr(defaultTemperature),
			MaxTokens:   intPtr(defaultMaxOutputTokens),
		})
	case "claude":
		if provCfg.APIKey == "" {
			return unconfiguredGateway{provider: provider}, nil
		}
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      provCfg.APIKey,
			Model:       provCfg.Model,
			BaseURL:     baseURLPtr,
			MaxTokens:   defaultMaxOutputTokens,
			Temperature: float32Ptr(defaultTemperature),
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return NewEinoGateway(provider, chatModel), nil
}

type unconfiguredGateway struct {
	provider string
}

func (g unconfiguredGateway) Generate(context.Context, Request) (string, error) {
	return "", fmt.Errorf("%w: %s api key is missing", ErrNotConfigured, g.provider)
}

func float32Ptr(v float32) *float32 { return &v }

func intPtr(v int) *int { return &v }
