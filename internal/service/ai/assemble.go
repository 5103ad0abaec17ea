package ai

import (
	"strings"

	"gemchat/internal/models"
)

const (
	// RoleUser and RoleModel are the turn roles understood by the provider.
	RoleUser  = "user"
	RoleModel = "model"

	defaultDocumentRequest = "Please analyze the document."
	emptyPromptFiller      = "Hello"

	missingTextNote = "\n\nNote: A PDF file was uploaded, but it contains no extractable text. " +
		"This might be an image-only PDF (scanned document). Please inform the user that the PDF " +
		"could not be processed because it contains no extractable text, and suggest they either: " +
		"1) Use a PDF with selectable text, 2) Provide the text content directly, or 3) Use OCR if " +
		"the PDF is scanned."
)

// Turn is one prior exchange entry sent as history.
type Turn struct {
	Role string
	Text string
}

// Part is one element of the current turn: either text or an inline image.
type Part struct {
	Text  string
	Image *models.InlineImage
}

// Request is everything a gateway needs for one generation call.
type Request struct {
	History []Turn
	Parts   []Part
}

// Assemble builds the request for the user message with id currentID.
// That message is left out of History because it is sent as the new turn.
func Assemble(chat *models.Chat, message, currentID string) Request {
	var req Request
	for _, msg := range chat.Messages {
		if msg.ID == currentID {
			continue
		}
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		role := RoleUser
		if msg.Role == models.RoleAssistant {
			role = RoleModel
		}
		req.History = append(req.History, Turn{Role: role, Text: text})
	}

	if chat.Image != nil && chat.Image.Data != "" {
		img := *chat.Image
		req.Parts = append(req.Parts, Part{Image: &img})
	}

	prompt := buildPrompt(chat, strings.TrimSpace(message))
	switch {
	case strings.TrimSpace(prompt) != "":
		req.Parts = append(req.Parts, Part{Text: prompt})
	case len(req.Parts) == 0:
		req.Parts = append(req.Parts, Part{Text: emptyPromptFiller})
	}
	return req
}

func buildPrompt(chat *models.Chat, message string) string {
	if chat.DocumentText != nil {
		if doc := strings.TrimSpace(*chat.DocumentText); doc != "" {
			request := message
			if request == "" {
				request = defaultDocumentRequest
			}
			return "Document content:\n\n" + doc + "\n\nUser request: " + request
		}
	}
	lower := strings.ToLower(message)
	if strings.Contains(lower, "pdf") || strings.Contains(lower, "document") {
		return message + missingTextNote
	}
	return message
}
