package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoGateway drives any eino chat model (openai, claude).
type EinoGateway struct {
	provider  string
	chatModel model.BaseChatModel
}

func NewEinoGateway(provider string, chatModel model.BaseChatModel) *EinoGateway {
	return &EinoGateway{provider: provider, chatModel: chatModel}
}

func (g *EinoGateway) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.chatModel.Generate(ctx, toSchemaMessages(req))
	if err != nil {
		return "", classifyEinoError(g.provider, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Content, nil
}

func toSchemaMessages(req Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := schema.User
		if turn.Role == RoleModel {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: turn.Text})
	}

	current := &schema.Message{Role: schema.User}
	hasImage := false
	for _, p := range req.Parts {
		if p.Image != nil {
			hasImage = true
			break
		}
	}
	if !hasImage {
		texts := make([]string, 0, len(req.Parts))
		for _, p := range req.Parts {
			texts = append(texts, p.Text)
		}
		current.Content = strings.Join(texts, "\n\n")
	} else {
		for _, p := range req.Parts {
			if p.Image != nil {
				current.MultiContent = append(current.MultiContent, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL: "data:" + p.Image.MimeType + ";base64," + p.Image.Data,
					},
				})
				continue
			}
			current.MultiContent = append(current.MultiContent, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}
	return append(messages, current)
}

// classifyEinoError maps provider SDK errors by their rendered text; the
// eino wrappers do not expose typed status codes.
func classifyEinoError(provider string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"), strings.Contains(msg, "rate_limit"):
		return fmt.Errorf("%w: %s: %v", ErrQuotaExceeded, provider, err)
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "invalid api key"), strings.Contains(msg, "invalid x-api-key"),
		strings.Contains(msg, "authentication"):
		return fmt.Errorf("%w: %s: %v", ErrNotConfigured, provider, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrUpstream, provider, err)
	}
}
