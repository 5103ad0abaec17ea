package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"gemchat/internal/models"
	rdb "gemchat/internal/redis"
)

const (
	redisChatKeyPrefix = "gemchat:chat:"
	redisChatIndexKey  = "gemchat:chats"
	redisMaxTxRetries  = 10
)

// RedisStore keeps every chat as one JSON document. Writes go through
// WATCH/MULTI so concurrent appends to one chat retry instead of being lost.
type RedisStore struct {
	client *rdb.Client
}

// NewRedisStore builds a store on top of an already connected client.
func NewRedisStore(client *rdb.Client) *RedisStore {
	return &RedisStore{client: client}
}

func chatKey(id string) string {
	return redisChatKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context) (*models.Chat, error) {
	for i := 0; i < 5; i++ {
		chat, err := s.CreateWithID(ctx, NewChatID())
		if errors.Is(err, ErrChatExists) {
			continue
		}
		return chat, err
	}
	return nil, errors.New("could not allocate chat id")
}

func (s *RedisStore) CreateWithID(ctx context.Context, id string) (*models.Chat, error) {
	chat := newChat(id)
	data, err := json.Marshal(chat)
	if err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}
	ok, err := s.client.SetNX(ctx, chatKey(id), data, 0)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if !ok {
		return nil, ErrChatExists
	}
	if err := s.client.AddMember(ctx, redisChatIndexKey, id); err != nil {
		return nil, fmt.Errorf("index chat: %w", err)
	}
	return chat, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Chat, error) {
	payload, err := s.client.Get(ctx, chatKey(id))
	if err != nil {
		if errors.Is(err, rdb.ErrCacheMiss) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return decodeChat([]byte(payload))
}

func decodeChat(data []byte) (*models.Chat, error) {
	var chat models.Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	if chat.Messages == nil {
		chat.Messages = make([]models.Message, 0)
	}
	return &chat, nil
}

// mutate applies fn to the stored chat inside an optimistic transaction.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(*models.Chat)) (*models.Chat, error) {
	key := chatKey(id)
	var result *models.Chat
	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return ErrChatNotFound
			}
			return err
		}
		chat, err := decodeChat(data)
		if err != nil {
			return err
		}
		fn(chat)
		chat.UpdatedAt = time.Now().UTC()
		encoded, err := json.Marshal(chat)
		if err != nil {
			return fmt.Errorf("encode chat: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			result = chat
		}
		return err
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrChatNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("update chat: %w", err)
		}
		return result, nil
	}
	return nil, fmt.Errorf("update chat %s: too much contention", id)
}

func (s *RedisStore) Update(ctx context.Context, id string, update models.ChatUpdate) (*models.Chat, error) {
	return s.mutate(ctx, id, update.Apply)
}

func (s *RedisStore) AppendMessage(ctx context.Context, id string, msg models.Message) (*models.Chat, error) {
	msg = stampMessage(msg)
	return s.mutate(ctx, id, func(chat *models.Chat) {
		chat.Messages = append(chat.Messages, msg)
	})
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, chatKey(id))
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if err := s.client.RemoveMember(ctx, redisChatIndexKey, id); err != nil {
		return fmt.Errorf("unindex chat: %w", err)
	}
	if removed == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*models.Chat, error) {
	ids, err := s.client.Members(ctx, redisChatIndexKey)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	chats := make([]*models.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.Get(ctx, id)
		if errors.Is(err, ErrChatNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
