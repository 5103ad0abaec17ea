package models

import "time"

// DefaultChatTitle is used until the first message or file names the chat.
const DefaultChatTitle = "New Chat"

// Chat groups an ordered transcript with the latest document and image
// context visible to the model.
type Chat struct {
	ID           string       `json:"chatId"`
	Title        string       `json:"title"`
	Messages     []Message    `json:"messages"`
	DocumentText *string      `json:"documentText"`
	Image        *InlineImage `json:"image"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy so store callers never share slices or pointers
// with the stored record.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		for i, msg := range c.Messages {
			if msg.Files != nil {
				msg.Files = append([]FileDisplay(nil), msg.Files...)
			}
			out.Messages[i] = msg
		}
	}
	if c.DocumentText != nil {
		text := *c.DocumentText
		out.DocumentText = &text
	}
	if c.Image != nil {
		img := *c.Image
		out.Image = &img
	}
	return &out
}

// ChatUpdate carries the fields merged by a store update. Nil fields are left
// untouched. Messages are not part of it: transcripts only grow by append.
type ChatUpdate struct {
	Title        *string
	DocumentText *string
	Image        *InlineImage
}

// Apply merges the update into chat.
func (u ChatUpdate) Apply(chat *Chat) {
	if u.Title != nil {
		chat.Title = *u.Title
	}
	if u.DocumentText != nil {
		text := *u.DocumentText
		chat.DocumentText = &text
	}
	if u.Image != nil {
		img := *u.Image
		chat.Image = &img
	}
}
