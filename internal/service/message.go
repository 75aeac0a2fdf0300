package service

import (
	"context"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/pkg/blob"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/pkg/kafka"
	"github.com/Gopher0727/TimeChat/internal/pkg/metrics"
)

const MaxMessageLength = 5000

// MessageInput is the content of a message: TextInput or AttachmentInput.
type MessageInput interface {
	messageInput()
}

type TextInput struct {
	Content string
}

// AttachmentInput references a stored blob. Content is an optional caption.
type AttachmentInput struct {
	Content  string
	URL      string
	Name     string
	MIMEType string
	Size     int64
}

func (TextInput) messageInput()       {}
func (AttachmentInput) messageInput() {}

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	ChatID  string `json:"chatId" binding:"required"`
	Content string `json:"content"`
}

// IMessageService defines the interface for message operations
type IMessageService interface {
	Send(ctx context.Context, senderID, chatID string, in MessageInput) (*MessageView, error)
	SendFile(ctx context.Context, senderID, chatID, caption, filename string, r io.Reader) (*MessageView, error)
	List(ctx context.Context, userID, chatID string) ([]*MessageView, error)
	Get(ctx context.Context, userID, messageID string) (*MessageView, error)
	MarkRead(ctx context.Context, userID, chatID string) (int64, error)
}

// MessageService implements IMessageService
type MessageService struct {
	Deps
	blobs       blob.Store
	broadcaster Broadcaster
	proj        projector
}

// NewMessageService creates a new MessageService instance
func NewMessageService(deps Deps, blobs blob.Store, broadcaster Broadcaster) *MessageService {
	deps.withDefaults()
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &MessageService{
		Deps:        deps,
		blobs:       blobs,
		broadcaster: broadcaster,
		proj:        projector{users: deps.Users, messages: deps.Messages},
	}
}

// toMessage decides kind and content once for every input shape.
func toMessage(in MessageInput) (*model.Message, error) {
	switch in := in.(type) {
	case TextInput:
		content := strings.TrimSpace(in.Content)
		if content == "" {
			return nil, errs.Validation("message content is required")
		}
		if utf8.RuneCountInString(content) > MaxMessageLength {
			return nil, errs.Validation("message must be at most %d characters", MaxMessageLength)
		}
		return &model.Message{Content: content, MessageType: model.MessageTypeText}, nil

	case AttachmentInput:
		if in.URL == "" {
			return nil, errs.Validation("attachment is required")
		}
		content := strings.TrimSpace(in.Content)
		if utf8.RuneCountInString(content) > MaxMessageLength {
			return nil, errs.Validation("message must be at most %d characters", MaxMessageLength)
		}
		if content == "" {
			content = "📎 " + in.Name
		}
		return &model.Message{
			Content:     content,
			MessageType: kindOf(in.MIMEType),
			Attachment: &model.Attachment{
				URL:      in.URL,
				Name:     in.Name,
				MIMEType: in.MIMEType,
				Size:     in.Size,
			},
		}, nil

	default:
		return nil, errs.Validation("unsupported message input")
	}
}

func kindOf(mimeType string) model.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return model.MessageTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return model.MessageTypeVideo
	default:
		return model.MessageTypeFile
	}
}

// memberRoom loads a live room the user belongs to.
func (s *MessageService) memberRoom(ctx context.Context, userID, chatID string) (*model.ChatRoom, error) {
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if !room.HasMember(userID) {
		return nil, ErrNotMember
	}
	if room.IsExpired(s.Now()) {
		return nil, ErrChatExpired
	}
	return room, nil
}

// Send stores a message, makes it the room's latest and fans it out to
// everyone in the room except the sender's own room subscriptions.
func (s *MessageService) Send(ctx context.Context, senderID, chatID string, in MessageInput) (*MessageView, error) {
	msg, err := toMessage(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberRoom(ctx, senderID, chatID); err != nil {
		return nil, err
	}

	id, err := s.nextID()
	if err != nil {
		return nil, err
	}
	msg.ID = strconv.FormatInt(id, 10)
	msg.ChatID = chatID
	msg.SenderID = senderID
	msg.CreatedAt = s.Now()

	if err := s.Messages.Create(ctx, msg); err != nil {
		return nil, errs.Upstream("failed to save message", err)
	}
	if err := s.Chats.SetLatestMessage(ctx, chatID, msg.ID); err != nil {
		s.Logger.Warn("failed to update latest message", zap.String("chat_id", chatID), zap.Error(err))
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.MessageType)).Inc()

	views, err := s.proj.messageViews(ctx, []*model.Message{msg})
	if err != nil {
		return nil, err
	}
	view := views[0]

	s.broadcaster.PublishMessage(chatID, view, senderID)
	s.publish(ctx, kafka.Event{
		Type:       kafka.EventMessageCreated,
		ChatID:     chatID,
		ActorID:    senderID,
		Attributes: map[string]any{"message_id": msg.ID, "message_type": msg.MessageType},
	})
	return view, nil
}

// SendFile stores the upload and sends it as an attachment message.
func (s *MessageService) SendFile(ctx context.Context, senderID, chatID, caption, filename string, r io.Reader) (*MessageView, error) {
	if s.blobs == nil {
		return nil, errs.Validation("file uploads are disabled")
	}
	if _, err := s.memberRoom(ctx, senderID, chatID); err != nil {
		return nil, err
	}
	obj, err := s.blobs.Save(ctx, filename, r)
	if err != nil {
		if errs.KindOf(err) != nil {
			return nil, err
		}
		return nil, errs.Upstream("failed to store upload", err)
	}
	return s.Send(ctx, senderID, chatID, AttachmentInput{
		Content:  caption,
		URL:      obj.URL,
		Name:     obj.Name,
		MIMEType: obj.MIMEType,
		Size:     obj.Size,
	})
}

// List returns the room's messages, oldest first.
func (s *MessageService) List(ctx context.Context, userID, chatID string) ([]*MessageView, error) {
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if !room.HasMember(userID) {
		return nil, ErrNotMember
	}
	msgs, err := s.Messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, errs.Upstream("failed to list messages", err)
	}
	return s.proj.messageViews(ctx, msgs)
}

func (s *MessageService) Get(ctx context.Context, userID, messageID string) (*MessageView, error) {
	msg, err := s.Messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, notFoundOr(err, ErrMessageNotFound, "failed to load message")
	}
	room, err := s.Chats.FindByID(ctx, msg.ChatID)
	if err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if !room.HasMember(userID) {
		return nil, ErrNotMember
	}
	views, err := s.proj.messageViews(ctx, []*model.Message{msg})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// MarkRead adds the user to the reader set of every message in the room
// and returns how many messages were newly marked.
func (s *MessageService) MarkRead(ctx context.Context, userID, chatID string) (int64, error) {
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return 0, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if !room.HasMember(userID) {
		return 0, ErrNotMember
	}
	n, err := s.Messages.MarkRead(ctx, chatID, userID, s.Now())
	if err != nil {
		return 0, errs.Upstream("failed to mark messages read", err)
	}
	return n, nil
}
