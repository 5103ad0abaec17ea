package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gemchat/internal/models"
)

// SQLStore keeps chats in sqlite or mysql. Messages are rows of their own so
// an append is a single insert and the transcript order is the insert order.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an opened and migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context) (*models.Chat, error) {
	for i := 0; i < 5; i++ {
		chat, err := s.CreateWithID(ctx, NewChatID())
		if errors.Is(err, ErrChatExists) {
			continue
		}
		return chat, err
	}
	return nil, errors.New("could not allocate chat id")
}

func (s *SQLStore) CreateWithID(ctx context.Context, id string) (*models.Chat, error) {
	chat := newChat(id)
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check chat: %w", err)
	}
	if exists > 0 {
		return nil, ErrChatExists
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chat.ID, chat.Title, chat.CreatedAt, chat.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Chat, error) {
	return s.load(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) load(ctx context.Context, q queryer, id string) (*models.Chat, error) {
	var (
		chat      models.Chat
		docText   sql.NullString
		imageMime sql.NullString
		imageData sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, title, document_text, image_mime, image_data, created_at, updated_at FROM chats WHERE id = ?`,
		id,
	).Scan(&chat.ID, &chat.Title, &docText, &imageMime, &imageData, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if docText.Valid {
		text := docText.String
		chat.DocumentText = &text
	}
	if imageData.Valid {
		chat.Image = &models.InlineImage{MimeType: imageMime.String, Data: imageData.String}
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, role, content, files, created_at FROM chat_messages WHERE chat_id = ? ORDER BY seq ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	chat.Messages = make([]models.Message, 0)
	for rows.Next() {
		var (
			msg   models.Message
			files sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &files, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if files.Valid && files.String != "" {
			if err := json.Unmarshal([]byte(files.String), &msg.Files); err != nil {
				return nil, fmt.Errorf("decode message files: %w", err)
			}
		}
		chat.Messages = append(chat.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, update models.ChatUpdate) (*models.Chat, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.DocumentText != nil {
		sets = append(sets, "document_text = ?")
		args = append(args, *update.DocumentText)
	}
	if update.Image != nil {
		sets = append(sets, "image_mime = ?", "image_data = ?")
		args = append(args, update.Image.MimeType, update.Image.Data)
	}
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE chats SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	chat, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update chat: %w", err)
	}
	return chat, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, id string, msg models.Message) (*models.Chat, error) {
	msg = stampMessage(msg)
	var files any
	if len(msg.Files) > 0 {
		data, err := json.Marshal(msg.Files)
		if err != nil {
			return nil, fmt.Errorf("encode message files: %w", err)
		}
		files = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("touch chat: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, chat_id, role, content, files, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, id, msg.Role, msg.Content, files, msg.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	chat, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append message: %w", err)
	}
	return chat, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chats := make([]*models.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.load(ctx, s.db, id)
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

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrChatNotFound
	}
	return nil
}
