package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat transcript. Files are display copies only;
// the AI context lives on the Chat.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Files     []FileDisplay `json:"files,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// FileDisplay is the attachment descriptor shown next to a message.
type FileDisplay struct {
	Type          FileType `json:"type"`
	OriginalName  string   `json:"originalName"`
	MimeType      string   `json:"mimeType,omitempty"`
	Base64        string   `json:"base64,omitempty"`
	ExtractedText string   `json:"extractedText,omitempty"`
}
