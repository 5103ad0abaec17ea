package worker

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultMinWorkers = 2
	defaultMaxWorkers = 16
	defaultQueueSize  = 256
)

// DispatcherConfig sizes the worker pool behind a Manager.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MinWorkers <= 0 {
		c.MinWorkers = defaultMinWorkers
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.WorkerIdleTimeout <= 0 {
		c.WorkerIdleTimeout = defaultWorkerIdle
	}
	return c
}

// Manager owns the dispatcher that runs chat turns. Work for one chat is
// serialized; different chats run in parallel up to MaxWorkers.
type Manager struct {
	dispatcher *Dispatcher
}

func NewManager(cfg DispatcherConfig) *Manager {
	cfg = cfg.withDefaults()
	log.Info("starting chat workers",
		"min", cfg.MinWorkers, "max", cfg.MaxWorkers, "queue", cfg.QueueSize, "idle", cfg.WorkerIdleTimeout)
	return &Manager{
		dispatcher: NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, cfg.WorkerIdleTimeout),
	}
}

// Do runs fn in the lane of chatID and returns its error. It fails fast with
// ErrDispatcherBusy when the queue is full.
func (m *Manager) Do(ctx context.Context, chatID string, fn func(ctx context.Context) error) error {
	return m.dispatcher.Submit(ctx, chatID, fn)
}

// Purge drops the queued work of a chat that no longer exists.
func (m *Manager) Purge(chatID string) {
	m.dispatcher.CancelChat(chatID)
}

// Stop shuts the dispatcher down. Running jobs finish, queued jobs fail.
func (m *Manager) Stop() {
	pending, running, idle := m.dispatcher.Stats()
	log.Info("stopping chat workers", "pending", pending, "running", running, "idle", idle)
	m.dispatcher.Close()
}
