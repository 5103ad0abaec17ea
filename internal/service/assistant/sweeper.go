package assistant

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"gemchat/internal/storage"
)

const DefaultChatSweepInterval = 10 * time.Minute

// StartIdleChatSweeper deletes chats that saw no activity for ttl. It does
// nothing when ttl is not positive.
func (s *Service) StartIdleChatSweeper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultChatSweepInterval
	}
	go s.sweepLoop(ctx, ttl, interval)
}

func (s *Service) sweepLoop(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.sweepIdleChats(ctx, time.Now().Add(-ttl)); err != nil {
				log.Error("sweep idle chats", "err", err)
			} else if n > 0 {
				log.Info("swept idle chats", "count", n)
			}
		}
	}
}

// sweepIdleChats removes chats last updated before cutoff. The check and the
// delete run in the chat's lane so a turn in progress is never cut short.
func (s *Service) sweepIdleChats(ctx context.Context, cutoff time.Time) (int, error) {
	chats, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	var removed atomic.Int32
	for _, c := range chats {
		if !c.UpdatedAt.Before(cutoff) {
			continue
		}
		chatID := c.ID
		err := s.runner.Do(ctx, chatID, func(ctx context.Context) error {
			current, err := s.store.Get(ctx, chatID)
			if err != nil {
				return err
			}
			if !current.UpdatedAt.Before(cutoff) {
				return nil
			}
			if err := s.store.Delete(ctx, chatID); err != nil {
				return err
			}
			removed.Add(1)
			return nil
		})
		if err != nil && !errors.Is(err, storage.ErrChatNotFound) {
			log.Warn("sweep chat failed", "chat", chatID, "err", err)
		}
	}
	return int(removed.Load()), nil
}
