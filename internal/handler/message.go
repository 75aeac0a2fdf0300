package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/service"
)

// multipartOverhead leaves room for form fields around the file part.
const multipartOverhead = 1 << 20

type MessageHandler struct {
	messageService service.IMessageService
	maxUpload      int64
}

func NewMessageHandler(messageService service.IMessageService, maxUpload int64) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		maxUpload:      maxUpload,
	}
}

// Send handles POST /messages
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.SendMessageRequest
	if !bind(c, &req) {
		return
	}

	msg, err := h.messageService.Send(c.Request.Context(), userID, req.ChatID, service.TextInput{Content: req.Content})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// SendFile handles POST /messages/file with multipart fields chatId,
// content (optional caption) and file.
func (h *MessageHandler) SendFile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
	}

	chatID := c.PostForm("chatId")
	if chatID == "" {
		fail(c, errs.Validation("chatId is required"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		fail(c, errs.Validation("file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		fail(c, errs.Validation("failed to read upload"))
		return
	}
	defer file.Close()

	msg, err := h.messageService.SendFile(c.Request.Context(), userID, chatID, c.PostForm("content"), header.Filename, file)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// List handles GET /messages/:chatId
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	msgs, err := h.messageService.List(c.Request.Context(), userID, c.Param("chatId"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, msgs)
}

// MarkRead handles PUT /messages/:chatId/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	n, err := h.messageService.MarkRead(c.Request.Context(), userID, c.Param("chatId"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": n})
}
