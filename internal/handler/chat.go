package handler

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/pkg/gateway"
	"github.com/Gopher0727/TimeChat/internal/service"
)

type ChatHandler struct {
	chatService   service.IChatService
	inviteService service.IInviteService
	notifier      Notifier
	logger        *zap.Logger
}

func NewChatHandler(chatService service.IChatService, inviteService service.IInviteService, notifier Notifier, logger *zap.Logger) *ChatHandler {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		chatService:   chatService,
		inviteService: inviteService,
		notifier:      notifier,
		logger:        logger,
	}
}

// groupResponse is a freshly created group with its first join code.
type groupResponse struct {
	*service.ChatView
	JoinCode string `json:"joinCode,omitempty"`
}

type chatDeleted struct {
	ChatID string `json:"chatId"`
}

// CreateDirect handles POST /chats: open the direct chat with another user,
// reusing the live one when it exists.
func (h *ChatHandler) CreateDirect(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.DirectChatRequest
	if !bind(c, &req) {
		return
	}

	room, err := h.chatService.CreateOrGetDirectChat(c.Request.Context(), userID, req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondRoom(c, http.StatusOK, room)
}

// CreateGroup handles POST /chats/group. The group starts with one active
// invite code.
func (h *ChatHandler) CreateGroup(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.CreateGroupRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	room, err := h.chatService.CreateRoom(ctx, userID, service.CreateRoomInput{
		Name:      req.Name,
		MemberIDs: req.UserIDs,
		IsGroup:   true,
	})
	if err != nil {
		fail(c, err)
		return
	}
	view, err := h.chatService.View(ctx, room)
	if err != nil {
		fail(c, err)
		return
	}

	resp := groupResponse{ChatView: view}
	code, err := h.inviteService.Generate(ctx, room.ID, userID, 0, nil)
	if err != nil {
		h.logger.Warn("initial invite code failed", zap.String("chat_id", room.ID), zap.Error(err))
	} else {
		resp.JoinCode = code.Code
	}

	h.notifier.NotifyUsers(room.MemberIDs(), gateway.EventChatUpdated, view)
	c.JSON(http.StatusCreated, resp)
}

// JoinGlobal handles POST /chats/global.
func (h *ChatHandler) JoinGlobal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	room, err := h.chatService.JoinGlobal(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondRoom(c, http.StatusOK, room)
}

// List handles GET /chats.
func (h *ChatHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	rooms, err := h.chatService.ListForUser(ctx, userID)
	if err != nil {
		fail(c, err)
		return
	}
	views, err := h.chatService.Views(ctx, rooms)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, views)
}

// Get handles GET /chats/:id.
func (h *ChatHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	room, err := h.chatService.Get(ctx, c.Param("id"), userID)
	if err != nil {
		fail(c, err)
		return
	}
	view, err := h.chatService.View(ctx, room)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Leave handles POST /chats/:id/leave.
func (h *ChatHandler) Leave(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	h.removeMember(c, userID, func(ctx context.Context, chatID string) (bool, error) {
		return h.chatService.Leave(ctx, chatID, userID)
	})
}

// Remove handles PUT /chats/:id/remove.
func (h *ChatHandler) Remove(c *gin.Context) {
	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.MemberRequest
	if !bind(c, &req) {
		return
	}
	h.removeMember(c, req.UserID, func(ctx context.Context, chatID string) (bool, error) {
		return h.chatService.RemoveMemberByAdmin(ctx, chatID, actorID, req.UserID)
	})
}

func (h *ChatHandler) removeMember(c *gin.Context, removedID string, remove func(context.Context, string) (bool, error)) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	before, err := h.chatService.MemberIDs(ctx, chatID)
	if err != nil {
		fail(c, err)
		return
	}
	deleted, err := remove(ctx, chatID)
	if err != nil {
		fail(c, err)
		return
	}

	if deleted {
		h.notifier.NotifyUsers(before, gateway.EventChatDeleted, chatDeleted{ChatID: chatID})
		c.JSON(http.StatusOK, gin.H{"message": "chat deleted", "deleted": true})
		return
	}

	h.notifier.NotifyUsers([]string{removedID}, gateway.EventChatDeleted, chatDeleted{ChatID: chatID})
	remaining := slices.DeleteFunc(before, func(id string) bool { return id == removedID })
	if len(remaining) > 0 {
		if room, err := h.chatService.Get(ctx, chatID, remaining[0]); err == nil {
			if view, err := h.chatService.View(ctx, room); err == nil {
				h.notifier.NotifyUsers(room.MemberIDs(), gateway.EventChatUpdated, view)
				c.JSON(http.StatusOK, gin.H{"message": "member removed", "deleted": false, "chat": view})
				return
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "member removed", "deleted": false})
}

// Rename handles PUT /chats/:id.
func (h *ChatHandler) Rename(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.RenameRequest
	if !bind(c, &req) {
		return
	}

	room, err := h.chatService.Rename(c.Request.Context(), c.Param("id"), userID, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondRoom(c, http.StatusOK, room)
}

// Add handles PUT /chats/:id/add.
func (h *ChatHandler) Add(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.MemberRequest
	if !bind(c, &req) {
		return
	}

	room, err := h.chatService.AddMemberByAdmin(c.Request.Context(), c.Param("id"), userID, req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	h.respondRoom(c, http.StatusOK, room)
}

// Export handles GET /chats/:id/export as a JSON download.
func (h *ChatHandler) Export(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	chatID := c.Param("id")

	export, err := h.chatService.ExportHistory(c.Request.Context(), chatID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="chat-%s.json"`, chatID))
	c.JSON(http.StatusOK, export)
}

// respondRoom writes the room view and tells every member it changed.
func (h *ChatHandler) respondRoom(c *gin.Context, status int, room *model.ChatRoom) {
	view, err := h.chatService.View(c.Request.Context(), room)
	if err != nil {
		fail(c, err)
		return
	}
	h.notifier.NotifyUsers(room.MemberIDs(), gateway.EventChatUpdated, view)
	c.JSON(status, view)
}
