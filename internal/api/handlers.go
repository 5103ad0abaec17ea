package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"gemchat/internal/models"
	"gemchat/internal/service/ai"
	"gemchat/internal/service/assistant"
	"gemchat/internal/service/files"
	"gemchat/internal/storage"
	"gemchat/internal/worker"
)

// multipartSlack covers form boundaries and headers around the uploaded file.
const multipartSlack = 1 << 20

// Handler wires HTTP routes to the chat service and the file normalizer.
type Handler struct {
	assistant  *assistant.Service
	normalizer *files.Normalizer
	maxBody    int64
}

// NewHandler constructs a Handler instance.
func NewHandler(service *assistant.Service, normalizer *files.Normalizer) *Handler {
	return &Handler{
		assistant:  service,
		normalizer: normalizer,
		// a message may carry several base64 attachments
		maxBody: 4*normalizer.MaxBytes() + multipartSlack,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api")
	api.GET("/chat", h.listChats)
	api.POST("/chat", h.createChat)
	api.GET("/chat/:id", h.getChat)
	api.DELETE("/chat/:id", h.deleteChat)
	api.POST("/chat/:id/message", h.sendMessage)
	api.POST("/file/upload", h.uploadFile)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Server is running"})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func (h *Handler) listChats(c *gin.Context) {
	chats, err := h.assistant.ListChats(c.Request.Context())
	if err != nil {
		log.Error("list chats", "err", err)
		fail(c, http.StatusInternalServerError, "Failed to list chats")
		return
	}
	if chats == nil {
		chats = make([]*models.Chat, 0)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chats": chats})
}

func (h *Handler) createChat(c *gin.Context) {
	chat, err := h.assistant.CreateChat(c.Request.Context())
	if err != nil {
		log.Error("create chat", "err", err)
		fail(c, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "chat": chat})
}

func (h *Handler) getChat(c *gin.Context) {
	chat, err := h.assistant.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrChatNotFound) {
			fail(c, http.StatusNotFound, "Chat not found")
			return
		}
		log.Error("get chat", "chat", c.Param("id"), "err", err)
		fail(c, http.StatusInternalServerError, "Failed to load chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chat": chat})
}

func (h *Handler) deleteChat(c *gin.Context) {
	if err := h.assistant.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrChatNotFound) {
			fail(c, http.StatusNotFound, "Chat not found")
			return
		}
		log.Error("delete chat", "chat", c.Param("id"), "err", err)
		fail(c, http.StatusInternalServerError, "Failed to delete chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat deleted successfully"})
}

// fileInput is an attachment as the client echoes it back from /file/upload.
type fileInput struct {
	Type          models.FileType     `json:"type"`
	OriginalName  string              `json:"originalName"`
	MimeType      string              `json:"mimeType"`
	Size          int64               `json:"size"`
	ExtractedText *string             `json:"extractedText"`
	Base64        string              `json:"base64"`
	ImagePart     *models.InlineImage `json:"imagePart"`
}

func (f fileInput) normalized() models.NormalizedFile {
	mt := strings.TrimSpace(f.MimeType)
	out := models.NormalizedFile{
		Type:         f.Type,
		OriginalName: f.OriginalName,
		MimeType:     mt,
		Size:         f.Size,
	}
	if out.Type == "" {
		out.Type = files.Classify(mt)
	}
	switch out.Type {
	case models.FileDocument:
		out.ExtractedText = f.ExtractedText
	case models.FileImage:
		switch {
		case f.ImagePart != nil && f.ImagePart.Data != "":
			img := *f.ImagePart
			if img.MimeType == "" {
				img.MimeType = mt
			}
			if files.Inlineable(img.MimeType) {
				out.Image = &img
			}
		case f.Base64 != "" && files.Inlineable(mt):
			out.Image = &models.InlineImage{MimeType: mt, Data: f.Base64}
		}
	}
	return out
}

type sendMessageRequest struct {
	Message string      `json:"message"`
	Files   []fileInput `json:"files"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	normalized := make([]models.NormalizedFile, 0, len(req.Files))
	for _, f := range req.Files {
		normalized = append(normalized, f.normalized())
	}

	chatID := c.Param("id")
	reply, err := h.assistant.SendMessage(c.Request.Context(), chatID, req.Message, normalized)
	if err != nil {
		status, message := messageError(err)
		if status >= http.StatusInternalServerError {
			log.Error("send message", "chat", chatID, "err", err)
		}
		fail(c, status, message)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": reply.Message,
		"chat":    reply.Chat,
	})
}

// messageError maps a send-message failure to its HTTP status and message.
func messageError(err error) (int, string) {
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest, "Message or file is required"
	case errors.Is(err, assistant.ErrInvalidChatID):
		return http.StatusBadRequest, "Invalid chat ID format"
	case errors.Is(err, storage.ErrChatNotFound):
		return http.StatusNotFound, "Chat not found"
	case errors.Is(err, ai.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "Gemini API quota exhausted"
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "server is busy, please retry"
	case errors.Is(err, worker.ErrJobCancelled):
		return http.StatusNotFound, "Chat not found"
	default:
		return http.StatusInternalServerError, "Gemini API error"
	}
}

func (h *Handler) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.normalizer.MaxBytes()+multipartSlack)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusBadRequest, "File too large")
			return
		}
		fail(c, http.StatusBadRequest, "No file uploaded")
		return
	}
	if header.Size > h.normalizer.MaxBytes() {
		fail(c, http.StatusBadRequest, "File too large")
		return
	}
	src, err := header.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer src.Close()

	data, err := files.ReadLimited(src, h.normalizer.MaxBytes())
	if err != nil {
		if errors.Is(err, files.ErrFileTooLarge) {
			fail(c, http.StatusBadRequest, "File too large")
			return
		}
		log.Error("read upload", "name", header.Filename, "err", err)
		fail(c, http.StatusInternalServerError, "Error processing file")
		return
	}

	file, err := h.normalizer.Normalize(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		switch {
		case errors.Is(err, files.ErrFileTooLarge):
			fail(c, http.StatusBadRequest, "File too large")
		case errors.Is(err, files.ErrUnparsablePDF):
			log.Warn("unparsable pdf", "name", header.Filename, "err", err)
			fail(c, http.StatusBadRequest, "Failed to parse PDF")
		default:
			log.Error("normalize upload", "name", header.Filename, "err", err)
			fail(c, http.StatusInternalServerError, "Error processing file")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "file": uploadView(file)})
}

// uploadView adds the flat base64 field clients render previews from.
func uploadView(f *models.NormalizedFile) gin.H {
	view := gin.H{
		"type":          f.Type,
		"originalName":  f.OriginalName,
		"mimeType":      f.MimeType,
		"size":          f.Size,
		"extractedText": f.ExtractedText,
		"base64":        nil,
	}
	if f.Image != nil {
		view["base64"] = f.Image.Data
		view["imagePart"] = f.Image
	}
	return view
}
