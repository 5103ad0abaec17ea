package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"gemchat/internal/config"
)

const (
	defaultTemperature     = 0.7
	defaultMaxOutputTokens = 2048
)

// generateContentFunc matches genai's Models.GenerateContent.
type generateContentFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiGateway calls the Gemini API through the official SDK.
type GeminiGateway struct {
	model    string
	generate generateContentFunc
}

// NewGeminiGateway creates the SDK client. Without an API key the gateway
// still builds but every call fails with ErrNotConfigured.
func NewGeminiGateway(ctx context.Context, provCfg config.ProviderConfig) (*GeminiGateway, error) {
	modelName := provCfg.Model
	if modelName == "" {
		modelName = config.DefaultGeminiModel
	}
	g := &GeminiGateway{model: modelName}
	if provCfg.APIKey == "" {
		log.Warn("gemini api key is not set, chat requests will fail until it is configured")
		return g, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  provCfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.generate = client.Models.GenerateContent
	return g, nil
}

func (g *GeminiGateway) Generate(ctx context.Context, req Request) (string, error) {
	if g.generate == nil {
		return "", fmt.Errorf("%w: gemini api key is missing", ErrNotConfigured)
	}
	contents, err := toGeminiContents(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	resp, err := g.generate(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(defaultTemperature)),
		MaxOutputTokens: defaultMaxOutputTokens,
	})
	if err != nil {
		return "", classifyGeminiError(err)
	}
	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func toGeminiContents(req Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		contents = append(contents, &genai.Content{
			Role:  turn.Role,
			Parts: []*genai.Part{{Text: turn.Text}},
		})
	}
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.Image != nil {
			data, err := base64.StdEncoding.DecodeString(p.Image.Data)
			if err != nil {
				return nil, fmt.Errorf("decode inline image: %w", err)
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.Image.MimeType, Data: data}})
			continue
		}
		parts = append(parts, &genai.Part{Text: p.Text})
	}
	contents = append(contents, &genai.Content{Role: RoleUser, Parts: parts})
	return contents, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden,
		apiErr.Status == "UNAUTHENTICATED" || apiErr.Status == "PERMISSION_DENIED",
		strings.Contains(apiErr.Message, "API key not valid"):
		return fmt.Errorf("%w: %s", ErrNotConfigured, apiErr.Message)
	default:
		return fmt.Errorf("%w: %d %s", ErrUpstream, apiErr.Code, apiErr.Message)
	}
}
