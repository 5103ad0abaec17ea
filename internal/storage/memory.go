package storage

import (
	"context"
	"sync"
	"time"

	"gemchat/internal/models"
)

type memoryEntry struct {
	mu   sync.Mutex
	chat *models.Chat
}

// MemoryStore keeps chats in process memory. Each chat has its own lock, so
// writes to different chats never contend and writes to one chat are
// applied one at a time.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]*memoryEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Create(ctx context.Context) (*models.Chat, error) {
	for {
		chat, err := s.CreateWithID(ctx, NewChatID())
		if err == ErrChatExists {
			continue
		}
		return chat, err
	}
}

func (s *MemoryStore) CreateWithID(_ context.Context, id string) (*models.Chat, error) {
	chat := newChat(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; ok {
		return nil, ErrChatExists
	}
	s.chats[id] = &memoryEntry{chat: chat}
	return chat.Clone(), nil
}

func (s *MemoryStore) entry(id string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chats[id]
	return e, ok
}

// mutate runs fn under the chat's lock. A chat deleted while fn waited for
// the lock is reported as not found.
func (s *MemoryStore) mutate(id string, fn func(*models.Chat)) (*models.Chat, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrChatNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chat == nil {
		return nil, ErrChatNotFound
	}
	fn(e.chat)
	e.chat.UpdatedAt = time.Now().UTC()
	return e.chat.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Chat, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrChatNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chat == nil {
		return nil, ErrChatNotFound
	}
	return e.chat.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, update models.ChatUpdate) (*models.Chat, error) {
	return s.mutate(id, update.Apply)
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, msg models.Message) (*models.Chat, error) {
	msg = stampMessage(msg)
	return s.mutate(id, func(chat *models.Chat) {
		chat.Messages = append(chat.Messages, msg)
	})
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.chats[id]
	delete(s.chats, id)
	s.mu.Unlock()
	if !ok {
		return ErrChatNotFound
	}
	e.mu.Lock()
	e.chat = nil
	e.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Chat, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.chats))
	for _, e := range s.chats {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	chats := make([]*models.Chat, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.chat != nil {
			chats = append(chats, e.chat.Clone())
		}
		e.mu.Unlock()
	}
	return chats, nil
}

func (s *MemoryStore) Close() error { return nil }
