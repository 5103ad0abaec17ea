package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"gemchat/internal/models"
	"gemchat/internal/service/ai"
	"gemchat/internal/storage"
)

const (
	titleMaxRunes = 30
	// chats.title is VARCHAR(255) on mysql
	fileTitleMaxRunes = 255
)

// Reply is the outcome of one accepted turn.
type Reply struct {
	Message string
	Chat    *models.Chat
}

// SendMessage records a user turn, asks the model and records the answer.
// When the model call fails the user message stays in the transcript and the
// gateway error is returned.
func (s *Service) SendMessage(ctx context.Context, chatID, text string, files []models.NormalizedFile) (*Reply, error) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return nil, ErrEmptyMessage
	}

	var reply *Reply
	err := s.runner.Do(ctx, chatID, func(ctx context.Context) error {
		var err error
		reply, err = s.sendMessage(ctx, chatID, text, files)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Service) sendMessage(ctx context.Context, chatID, text string, files []models.NormalizedFile) (*Reply, error) {
	if _, err := s.resolveChat(ctx, chatID); err != nil {
		return nil, err
	}

	documentText, image, displays := foldFiles(files)

	chat, err := s.store.AppendMessage(ctx, chatID, models.Message{
		Role:    models.RoleUser,
		Content: text,
		Files:   displays,
	})
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	userMsgID := chat.Messages[len(chat.Messages)-1].ID

	update := models.ChatUpdate{DocumentText: documentText, Image: image}
	if chat.Title == models.DefaultChatTitle {
		if title := chatTitle(text, files); title != "" {
			update.Title = &title
		}
	}
	if update.Title != nil || update.DocumentText != nil || update.Image != nil {
		chat, err = s.store.Update(ctx, chatID, update)
		if err != nil {
			return nil, fmt.Errorf("update chat context: %w", err)
		}
	}

	req := ai.Assemble(chat, text, userMsgID)

	genCtx := ctx
	if s.aiTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.aiTimeout)
		defer cancel()
	}
	answer, err := s.gateway.Generate(genCtx, req)
	if err != nil {
		log.Error("ai request failed", "chat", chatID, "history", len(req.History), "parts", len(req.Parts), "err", err)
		return nil, err
	}

	chat, err = s.store.AppendMessage(ctx, chatID, models.Message{
		Role:    models.RoleAssistant,
		Content: answer,
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	return &Reply{Message: answer, Chat: chat}, nil
}

// resolveChat loads the chat, recreating it under the same id when the
// server lost it (for example after a restart).
func (s *Service) resolveChat(ctx context.Context, chatID string) (*models.Chat, error) {
	chat, err := s.store.Get(ctx, chatID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, storage.ErrChatNotFound) {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if !storage.ValidChatID(chatID) {
		return nil, ErrInvalidChatID
	}
	if !s.recovery {
		return nil, storage.ErrChatNotFound
	}

	chat, err = s.store.CreateWithID(ctx, chatID)
	if errors.Is(err, storage.ErrChatExists) {
		return s.store.Get(ctx, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("recreate chat: %w", err)
	}
	log.Info("recreated unknown chat", "chat", chatID)
	return chat, nil
}

// foldFiles derives the chat context carried by this turn's files and the
// display copies stored on the message.
func foldFiles(files []models.NormalizedFile) (*string, *models.InlineImage, []models.FileDisplay) {
	if len(files) == 0 {
		return nil, nil, nil
	}
	var (
		texts    []string
		image    *models.InlineImage
		displays = make([]models.FileDisplay, 0, len(files))
	)
	for _, f := range files {
		displays = append(displays, f.Display())
		if text, ok := f.DocumentText(); ok {
			texts = append(texts, text)
		}
		if image == nil && f.Type == models.FileImage && f.Image != nil {
			img := *f.Image
			image = &img
		}
	}
	var documentText *string
	if len(texts) > 0 {
		joined := strings.Join(texts, "\n\n")
		documentText = &joined
	}
	return documentText, image, displays
}

func chatTitle(text string, files []models.NormalizedFile) string {
	if len(files) > 0 && files[0].OriginalName != "" {
		return truncateRunes(files[0].OriginalName, fileTitleMaxRunes)
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return truncateRunes(text, titleMaxRunes)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}
