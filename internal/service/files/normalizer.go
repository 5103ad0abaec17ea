package files

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/gabriel-vasile/mimetype"

	"gemchat/internal/config"
	"gemchat/internal/models"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the configured cap.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnparsablePDF is returned when a PDF cannot be read at all.
	ErrUnparsablePDF = errors.New("failed to parse PDF")
)

// inlineImageTypes are the image formats sent to the model as inline data.
var inlineImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
}

// Inlineable reports whether images of this MIME type are sent to the model.
func Inlineable(mimeType string) bool {
	return inlineImageTypes[strings.ToLower(strings.TrimSpace(mimeType))]
}

// Classify maps a MIME type to the coarse file type used by chats.
// Unknown or empty types are treated as documents.
func Classify(mimeType string) models.FileType {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return models.FileImage
	case strings.HasPrefix(mt, "audio/"):
		return models.FileAudio
	case strings.HasPrefix(mt, "video/"):
		return models.FileVideo
	default:
		return models.FileDocument
	}
}

// Normalizer turns an uploaded file into a NormalizedFile.
type Normalizer struct {
	maxBytes int64
	parser   parser.Parser
}

// NewNormalizer builds the document parsers once; they are safe to reuse.
func NewNormalizer(ctx context.Context, maxBytes int64) (*Normalizer, error) {
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxUploadBytes
	}
	pdfParser, err := pdf.NewPDFParser(ctx, &pdf.Config{})
	if err != nil {
		return nil, fmt.Errorf("init pdf parser: %w", err)
	}
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf": pdfParser,
		},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init document parser: %w", err)
	}
	return &Normalizer{maxBytes: maxBytes, parser: extParser}, nil
}

// MaxBytes is the upload cap enforced by Normalize.
func (n *Normalizer) MaxBytes() int64 {
	return n.maxBytes
}

// Normalize classifies data and extracts what the model can consume:
// text for PDF and plain-text documents, an inline payload for PNG/JPEG.
func (n *Normalizer) Normalize(ctx context.Context, name, mimeType string, data []byte) (*models.NormalizedFile, error) {
	size := int64(len(data))
	if size > n.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, n.maxBytes)
	}

	mt := normalizeMime(mimeType, data)
	file := &models.NormalizedFile{
		Type:         Classify(mt),
		OriginalName: name,
		MimeType:     mt,
		Size:         size,
	}

	switch {
	case mt == "application/pdf":
		text, err := n.extract(ctx, data, "upload.pdf")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsablePDF, err)
		}
		file.ExtractedText = &text
	case mt == "text/plain":
		if !utf8.Valid(data) {
			break
		}
		text, err := n.extract(ctx, data, "upload.txt")
		if err != nil {
			break
		}
		file.ExtractedText = &text
	case inlineImageTypes[mt]:
		file.Image = &models.InlineImage{
			MimeType: mt,
			Data:     base64.StdEncoding.EncodeToString(data),
		}
	}
	return file, nil
}

func (n *Normalizer) extract(ctx context.Context, data []byte, uri string) (text string, err error) {
	defer func() {
		// the pdf reader panics on some malformed inputs
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	docs, err := n.parser.Parse(ctx, bytes.NewReader(data), parser.WithURI(uri))
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		parts = append(parts, doc.Content)
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

// normalizeMime drops parameters from the declared type and sniffs the
// content when the client sent nothing useful.
func normalizeMime(declared string, data []byte) string {
	mt := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" || mt == "application/octet-stream" {
		detected := mimetype.Detect(data).String()
		if i := strings.IndexByte(detected, ';'); i >= 0 {
			detected = detected[:i]
		}
		mt = detected
	}
	return mt
}

// ReadLimited reads r up to limit bytes and reports ErrFileTooLarge when
// more data is left.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, limit)
	}
	return data, nil
}
