package models

import "strings"

// FileType is the coarse category an upload is classified into.
type FileType string

const (
	FileDocument FileType = "document"
	FileImage    FileType = "image"
	FileAudio    FileType = "audio"
	FileVideo    FileType = "video"
)

// InlineImage is a MIME-tagged base64 image ready to be sent to the model.
type InlineImage struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NormalizedFile is the canonical form of an upload. Documents carry
// ExtractedText (nil when no extraction applies, "" when it found nothing),
// images carry Image when the format can be inlined. Audio and video carry
// neither.
type NormalizedFile struct {
	Type          FileType     `json:"type"`
	OriginalName  string       `json:"originalName"`
	MimeType      string       `json:"mimeType"`
	Size          int64        `json:"size"`
	ExtractedText *string      `json:"extractedText"`
	Image         *InlineImage `json:"imagePart,omitempty"`
}

// DocumentText returns the trimmed extracted text and whether it is usable
// as document context.
func (f NormalizedFile) DocumentText() (string, bool) {
	if f.Type != FileDocument || f.ExtractedText == nil {
		return "", false
	}
	text := strings.TrimSpace(*f.ExtractedText)
	return text, text != ""
}

// Display builds the attachment descriptor kept on the message.
func (f NormalizedFile) Display() FileDisplay {
	d := FileDisplay{Type: f.Type, OriginalName: f.OriginalName, MimeType: f.MimeType}
	switch {
	case f.Image != nil:
		d.Base64 = f.Image.Data
		d.MimeType = f.Image.MimeType
	case f.ExtractedText != nil:
		d.ExtractedText = strings.TrimSpace(*f.ExtractedText)
	}
	return d
}
