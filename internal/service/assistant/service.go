package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gemchat/internal/models"
	"gemchat/internal/service/ai"
	"gemchat/internal/storage"
)

var (
	// ErrEmptyMessage is returned when a turn has neither text nor files.
	ErrEmptyMessage = errors.New("message or file is required")
	// ErrInvalidChatID is returned for unknown chats whose id could not have
	// been issued by this server.
	ErrInvalidChatID = errors.New("invalid chat id format")
)

// Runner executes work in a per-chat lane. worker.Manager implements it.
type Runner interface {
	Do(ctx context.Context, chatID string, fn func(ctx context.Context) error) error
	Purge(chatID string)
}

// inlineRunner runs work on the caller goroutine.
type inlineRunner struct{}

func (inlineRunner) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (inlineRunner) Purge(string) {}

// Options configures a Service.
type Options struct {
	// Runner serializes turns per chat. Nil runs them inline.
	Runner Runner
	// DisableRecovery turns unknown chat ids into ErrChatNotFound instead of
	// recreating the chat under the same id.
	DisableRecovery bool
	// AITimeout bounds one gateway call. Zero means no extra bound.
	AITimeout time.Duration
}

// Service orchestrates chats: storage, context assembly and the AI call.
type Service struct {
	store     storage.Store
	gateway   ai.Gateway
	runner    Runner
	recovery  bool
	aiTimeout time.Duration
}

// NewService builds a new chat service.
func NewService(store storage.Store, gateway ai.Gateway, opts Options) *Service {
	runner := opts.Runner
	if runner == nil {
		runner = inlineRunner{}
	}
	return &Service{
		store:     store,
		gateway:   gateway,
		runner:    runner,
		recovery:  !opts.DisableRecovery,
		aiTimeout: opts.AITimeout,
	}
}

// CreateChat starts an empty chat.
func (s *Service) CreateChat(ctx context.Context) (*models.Chat, error) {
	chat, err := s.store.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// GetChat returns one chat or storage.ErrChatNotFound.
func (s *Service) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	return s.store.Get(ctx, chatID)
}

// ListChats returns every chat, most recently active first.
func (s *Service) ListChats(ctx context.Context) ([]*models.Chat, error) {
	chats, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// DeleteChat removes a chat and drops its queued turns.
func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.store.Delete(ctx, chatID); err != nil {
		return err
	}
	s.runner.Purge(chatID)
	return nil
}
