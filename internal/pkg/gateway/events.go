package gateway

import "encoding/json"

// Client to server events.
const (
	EventSetup       = "setup"
	EventJoinChat    = "join chat"
	EventLeaveChat   = "leave chat"
	EventNewMessage  = "new message"
	EventUserOnline  = "user online"
	EventUserOffline = "user offline"
)

// Server to client events. typing and stop typing flow both ways.
const (
	EventConnected       = "connected"
	EventMessageReceived = "message received"
	EventTyping          = "typing"
	EventStopTyping      = "stop typing"
	EventUserStatus      = "user status"
	EventChatUpdated     = "chat updated"
	EventChatDeleted     = "chat deleted"
	EventError           = "error"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: data})
}

type SetupPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type NewMessagePayload struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type StatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
