package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/pkg/gateway"
	"github.com/Gopher0727/TimeChat/internal/service"
)

type InviteHandler struct {
	inviteService service.IInviteService
	chatService   service.IChatService
	notifier      Notifier
}

func NewInviteHandler(inviteService service.IInviteService, chatService service.IChatService, notifier Notifier) *InviteHandler {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &InviteHandler{
		inviteService: inviteService,
		chatService:   chatService,
		notifier:      notifier,
	}
}

// Generate handles POST /invite-codes
func (h *InviteHandler) Generate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.GenerateInviteRequest
	if !bind(c, &req) {
		return
	}

	code, err := h.inviteService.Generate(c.Request.Context(), req.ChatID, userID, req.ExpiryMinutes, req.MaxUses)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.inviteService.View(code))
}

// Regenerate handles POST /invite-codes/regenerate
func (h *InviteHandler) Regenerate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.RegenerateInviteRequest
	if !bind(c, &req) {
		return
	}

	code, err := h.inviteService.Regenerate(c.Request.Context(), req.ChatID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.inviteService.View(code))
}

// Redeem handles POST /invite-codes/redeem. Redeeming a code of a room the
// caller already belongs to succeeds without changing anything.
func (h *InviteHandler) Redeem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.RedeemRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	result, err := h.inviteService.Redeem(ctx, req.Code, userID)
	if err != nil {
		fail(c, err)
		return
	}
	view, err := h.chatService.View(ctx, result.Room)
	if err != nil {
		fail(c, err)
		return
	}

	message := "Welcome back! You are already a member of this chat."
	if result.Joined {
		message = "Successfully joined \"" + result.Room.Name + "\"!"
		h.notifier.NotifyUsers(result.Room.MemberIDs(), gateway.EventChatUpdated, view)
	}
	c.JSON(http.StatusOK, gin.H{
		"message": message,
		"joined":  result.Joined,
		"chat":    view,
	})
}

// List handles GET /invite-codes?room=
func (h *InviteHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID := c.Query("room")
	if chatID == "" {
		fail(c, errs.Validation("room query parameter is required"))
		return
	}

	codes, err := h.inviteService.ListActive(c.Request.Context(), chatID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	views := make([]*service.InviteView, 0, len(codes))
	for _, code := range codes {
		views = append(views, h.inviteService.View(code))
	}
	c.JSON(http.StatusOK, views)
}

// Deactivate handles DELETE /invite-codes/:id
func (h *InviteHandler) Deactivate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.inviteService.Deactivate(c.Request.Context(), c.Param("id"), userID); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "code deactivated"})
}
