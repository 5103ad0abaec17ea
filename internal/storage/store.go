package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"gemchat/internal/models"
)

// ErrChatNotFound is returned for every operation on an unknown chat id.
var ErrChatNotFound = errors.New("chat not found")

// ErrChatExists is returned by CreateWithID when the id is already taken.
var ErrChatExists = errors.New("chat already exists")

// Store keeps chat records. Implementations are safe for concurrent use and
// never hand out references to their internal state.
type Store interface {
	Create(ctx context.Context) (*models.Chat, error)
	CreateWithID(ctx context.Context, id string) (*models.Chat, error)
	Get(ctx context.Context, id string) (*models.Chat, error)
	Update(ctx context.Context, id string, update models.ChatUpdate) (*models.Chat, error)
	AppendMessage(ctx context.Context, id string, msg models.Message) (*models.Chat, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Chat, error)
	Close() error
}

var chatIDPattern = regexp.MustCompile(`^chat_[A-Za-z0-9_-]+$`)

// ValidChatID reports whether id has the shape produced by NewChatID.
func ValidChatID(id string) bool {
	return len(id) <= 128 && chatIDPattern.MatchString(id)
}

// NewChatID returns a fresh opaque id of the form chat_<unix ms>_<random>.
func NewChatID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("chat_%d_%s", time.Now().UnixMilli(), suffix)
}

func newChat(id string) *models.Chat {
	now := time.Now().UTC()
	return &models.Chat{
		ID:        id,
		Title:     models.DefaultChatTitle,
		Messages:  make([]models.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// stampMessage fills the id and timestamp of a message about to be appended.
func stampMessage(msg models.Message) models.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Files != nil {
		msg.Files = append([]models.FileDisplay(nil), msg.Files...)
	}
	return msg
}
