package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"gemchat/internal/config"
	"gemchat/internal/models"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: RoleModel, Parts: []*genai.Part{{Text: text}}},
	}}}
}

func TestGeminiGatewayBuildsContents(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	var (
		gotModel    string
		gotContents []*genai.Content
		gotConfig   *genai.GenerateContentConfig
	)
	g := &GeminiGateway{model: "gemini-2.5-flash", generate: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotModel, gotContents, gotConfig = model, contents, cfg
		return textResponse("a cat"), nil
	}}

	req := Request{
		History: []Turn{{Role: RoleUser, Text: "hi"}, {Role: RoleModel, Text: "hello"}},
		Parts: []Part{
			{Image: &models.InlineImage{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(raw)}},
			{Text: "what is this?"},
		},
	}
	reply, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "a cat" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if gotModel != "gemini-2.5-flash" {
		t.Fatalf("unexpected model %q", gotModel)
	}
	if gotConfig == nil || gotConfig.Temperature == nil || *gotConfig.Temperature != float32(0.7) || gotConfig.MaxOutputTokens != 2048 {
		t.Fatalf("unexpected generation config: %+v", gotConfig)
	}
	if len(gotContents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(gotContents))
	}
	if gotContents[0].Role != "user" || gotContents[1].Role != "model" || gotContents[2].Role != "user" {
		t.Fatalf("unexpected roles: %s %s %s", gotContents[0].Role, gotContents[1].Role, gotContents[2].Role)
	}
	current := gotContents[2].Parts
	if len(current) != 2 || current[0].InlineData == nil || current[1].Text != "what is this?" {
		t.Fatalf("unexpected current turn parts: %+v", current)
	}
	if len(current[0].InlineData.Data) != len(raw) || current[0].InlineData.MIMEType != "image/png" {
		t.Fatalf("inline image not decoded: %+v", current[0].InlineData)
	}
}

func TestGeminiGatewayErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"quota", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}, ErrQuotaExceeded},
		{"quota pointer", &genai.APIError{Code: 429, Message: "slow down"}, ErrQuotaExceeded},
		{"bad key", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "API key not valid. Please pass a valid API key."}, ErrNotConfigured},
		{"forbidden", genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}, ErrNotConfigured},
		{"server", genai.APIError{Code: 500, Status: "INTERNAL"}, ErrUpstream},
		{"transport", errors.New("connection reset"), ErrUpstream},
		{"wrapped quota", fmt.Errorf("call: %w", genai.APIError{Code: 429}), ErrQuotaExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &GeminiGateway{model: "m", generate: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, tc.err
			}}
			_, err := g.Generate(context.Background(), Request{Parts: []Part{{Text: "hi"}}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGeminiGatewayEmptyResponse(t *testing.T) {
	g := &GeminiGateway{model: "m", generate: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}}
	if _, err := g.Generate(context.Background(), Request{Parts: []Part{{Text: "hi"}}}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGeminiGatewayWithoutKey(t *testing.T) {
	g, err := NewGeminiGateway(context.Background(), config.ProviderConfig{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if g.model != config.DefaultGeminiModel {
		t.Fatalf("unexpected default model %q", g.model)
	}
	if _, err := g.Generate(context.Background(), Request{Parts: []Part{{Text: "hi"}}}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

type fakeChatModel struct {
	got  []*schema.Message
	resp *schema.Message
	err  error
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = input
	return f.resp, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEinoGatewayMessages(t *testing.T) {
	fake := &fakeChatModel{resp: schema.AssistantMessage("sure", nil)}
	g := NewEinoGateway("openai", fake)

	reply, err := g.Generate(context.Background(), Request{
		History: []Turn{{Role: RoleUser, Text: "hi"}, {Role: RoleModel, Text: "hello"}},
		Parts:   []Part{{Image: &models.InlineImage{MimeType: "image/jpeg", Data: "AAAA"}}, {Text: "describe"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "sure" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(fake.got) != 3 || fake.got[1].Role != schema.Assistant {
		t.Fatalf("unexpected messages: %+v", fake.got)
	}
	current := fake.got[2]
	if len(current.MultiContent) != 2 {
		t.Fatalf("expected multi content parts, got %+v", current)
	}
	if current.MultiContent[0].ImageURL == nil || current.MultiContent[0].ImageURL.URL != "data:image/jpeg;base64,AAAA" {
		t.Fatalf("unexpected image part: %+v", current.MultiContent[0])
	}
	if current.MultiContent[1].Text != "describe" {
		t.Fatalf("unexpected text part: %+v", current.MultiContent[1])
	}
}

func TestEinoGatewayErrors(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{errors.New("error, status code: 429, message: Rate limit reached"), ErrQuotaExceeded},
		{errors.New("error, status code: 401, message: Incorrect API key provided"), ErrNotConfigured},
		{errors.New("dial tcp: i/o timeout"), ErrUpstream},
	}
	for _, tc := range cases {
		g := NewEinoGateway("openai", &fakeChatModel{err: tc.err})
		if _, err := g.Generate(context.Background(), Request{Parts: []Part{{Text: "hi"}}}); !errors.Is(err, tc.want) {
			t.Fatalf("%v: got %v, want %v", tc.err, err, tc.want)
		}
	}

	g := NewEinoGateway("claude", &fakeChatModel{resp: schema.AssistantMessage("  ", nil)})
	if _, err := g.Generate(context.Background(), Request{Parts: []Part{{Text: "hi"}}}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewGatewayWithoutKeys(t *testing.T) {
	for _, provider := range []string{"gemini", "openai", "claude"} {
		cfg := &config.Config{
			BasicConfig: config.BasicConfig{Provider: provider},
			Providers:   map[string]config.ProviderConfig{},
		}
		g, err := NewGateway(context.Background(), cfg)
		if err != nil {
			t.Fatalf("%s: %v", provider, err)
		}
		if _, err := g.Generate(context.Background(), Request{Parts: []Part{{Text: "hi"}}}); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("%s: expected ErrNotConfigured, got %v", provider, err)
		}
	}

	cfg := &config.Config{BasicConfig: config.BasicConfig{Provider: "llama"}}
	if _, err := NewGateway(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
