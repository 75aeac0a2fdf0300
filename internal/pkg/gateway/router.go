package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/internal/pkg/metrics"
)

// MemberLookup resolves the members of a room for identity-topic delivery.
type MemberLookup interface {
	MemberIDs(ctx context.Context, chatID string) ([]string, error)
}

// Presence persists a user's online state.
type Presence interface {
	SetPresence(ctx context.Context, userID string, online bool) error
}

type connSet map[*Connection]struct{}

// Router maps identities and rooms to live connections and fans events out
// to them. A single mutex covers every mutation and every publish, so a
// publish never observes a half-applied join, leave or disconnect and all
// connections see publishes in the same order.
type Router struct {
	mu    sync.RWMutex
	conns connSet
	users map[string]connSet // identity topics
	rooms map[string]connSet // room topics

	members  MemberLookup
	presence Presence
	submit   func(func()) error
	logger   *zap.Logger
}

type Option func(*Router)

// WithPresence records online state when a user's first connection
// registers and their last one goes away.
func WithPresence(p Presence) Option {
	return func(r *Router) { r.presence = p }
}

// WithSubmitter runs presence writes off the caller's goroutine, typically
// on a worker pool.
func WithSubmitter(submit func(func()) error) Option {
	return func(r *Router) { r.submit = submit }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

func NewRouter(members MemberLookup, opts ...Option) *Router {
	r := &Router{
		conns:   make(connSet),
		users:   make(map[string]connSet),
		rooms:   make(map[string]connSet),
		members: members,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds conn to its user's identity topic. Registering the same
// connection twice is a no-op. It reports whether this is the user's first
// live connection.
func (r *Router) Register(conn *Connection) bool {
	r.mu.Lock()
	if _, ok := r.conns[conn]; ok {
		r.mu.Unlock()
		return false
	}
	r.conns[conn] = struct{}{}
	first := len(r.users[conn.UserID]) == 0
	add(r.users, conn.UserID, conn)
	r.mu.Unlock()

	metrics.WsConnections.Inc()
	r.logger.Debug("connection registered",
		zap.String("user_id", conn.UserID),
		zap.String("conn_id", conn.ID),
		zap.Bool("first", first),
	)
	if first {
		r.setPresence(conn.UserID, true)
	}
	return first
}

// JoinRoom subscribes conn to the room topic.
func (r *Router) JoinRoom(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn]; !ok {
		return
	}
	add(r.rooms, roomID, conn)
	conn.rooms[roomID] = struct{}{}
}

// LeaveRoom unsubscribes conn from the room topic.
func (r *Router) LeaveRoom(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	remove(r.rooms, roomID, conn)
	delete(conn.rooms, roomID)
}

// RemoveUserFromRoom unsubscribes every connection of userID from the room
// topic, used once the user is no longer a member.
func (r *Router) RemoveUserFromRoom(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.users[userID] {
		remove(r.rooms, roomID, conn)
		delete(conn.rooms, roomID)
	}
}

// CloseRoom drops the room topic and all of its subscriptions.
func (r *Router) CloseRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.rooms[roomID] {
		delete(conn.rooms, roomID)
	}
	delete(r.rooms, roomID)
}

// InRoom reports whether conn is subscribed to the room topic.
func (r *Router) InRoom(conn *Connection, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomID][conn]
	return ok
}

// PublishMessage delivers a message received event to the room topic,
// skipping excludeUserID's connections, and then to the identity topic of
// every room member. A connection in both sets receives the event twice;
// clients dedupe by message id.
func (r *Router) PublishMessage(roomID string, payload any, excludeUserID string) {
	frame, err := encode(EventMessageReceived, payload)
	if err != nil {
		r.logger.Error("encode message event failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	var memberIDs []string
	if r.members != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		memberIDs, err = r.members.MemberIDs(ctx, roomID)
		cancel()
		if err != nil {
			r.logger.Warn("resolve room members failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}

	r.mu.Lock()
	var slow []*Connection
	for conn := range r.rooms[roomID] {
		if conn.UserID == excludeUserID {
			continue
		}
		slow = r.deliver(conn, EventMessageReceived, frame, slow)
	}
	for _, id := range memberIDs {
		for conn := range r.users[id] {
			slow = r.deliver(conn, EventMessageReceived, frame, slow)
		}
	}
	r.mu.Unlock()

	r.dropSlow(slow)
}

// PublishTyping tells the rest of the room that userID started or stopped
// typing. Nothing is stored.
func (r *Router) PublishTyping(roomID, userID, userName string, starting bool) {
	event := EventStopTyping
	payload := TypingPayload{RoomID: roomID, UserID: userID}
	if starting {
		event = EventTyping
		payload.UserName = userName
	}
	frame, err := encode(event, payload)
	if err != nil {
		r.logger.Error("encode typing event failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	var slow []*Connection
	for conn := range r.rooms[roomID] {
		if conn.UserID != userID {
			slow = r.deliver(conn, event, frame, slow)
		}
	}
	r.mu.Unlock()

	r.dropSlow(slow)
}

// NotifyUsers sends event to every connection of the given users.
func (r *Router) NotifyUsers(userIDs []string, event string, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		r.logger.Error("encode event failed", zap.String("event", event), zap.Error(err))
		return
	}

	r.mu.Lock()
	var slow []*Connection
	for _, id := range userIDs {
		for conn := range r.users[id] {
			slow = r.deliver(conn, event, frame, slow)
		}
	}
	r.mu.Unlock()

	r.dropSlow(slow)
}

// BroadcastStatus sends user status to every connection not owned by userID.
func (r *Router) BroadcastStatus(userID string, online bool) {
	frame, err := encode(EventUserStatus, StatusPayload{UserID: userID, IsOnline: online})
	if err != nil {
		r.logger.Error("encode status event failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	var slow []*Connection
	for conn := range r.conns {
		if conn.UserID != userID {
			slow = r.deliver(conn, EventUserStatus, frame, slow)
		}
	}
	r.mu.Unlock()

	r.dropSlow(slow)
}

// Send queues a frame for a single connection.
func (r *Router) Send(conn *Connection, event string, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		r.logger.Error("encode event failed", zap.String("event", event), zap.Error(err))
		return
	}
	r.mu.Lock()
	slow := r.deliver(conn, event, frame, nil)
	r.mu.Unlock()

	r.dropSlow(slow)
}

// deliver must be called with r.mu held.
func (r *Router) deliver(conn *Connection, event string, frame []byte, slow []*Connection) []*Connection {
	if conn.enqueue(frame) {
		metrics.WsEventsTotal.WithLabelValues(event).Inc()
		return slow
	}
	return append(slow, conn)
}

// dropSlow disconnects connections whose queue was full.
func (r *Router) dropSlow(slow []*Connection) {
	for _, conn := range slow {
		if conn.IsClosed() {
			continue
		}
		r.logger.Warn("dropping slow connection",
			zap.String("user_id", conn.UserID),
			zap.String("conn_id", conn.ID),
		)
		metrics.WsDroppedTotal.Inc()
		r.Disconnect(conn)
	}
}

// Disconnect removes conn from every topic and closes it. When it was the
// user's last connection the user is marked offline and everybody else
// receives user status with isOnline false.
func (r *Router) Disconnect(conn *Connection) {
	r.mu.Lock()
	if _, ok := r.conns[conn]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, conn)
	remove(r.users, conn.UserID, conn)
	for roomID := range conn.rooms {
		remove(r.rooms, roomID, conn)
	}
	clear(conn.rooms)
	last := len(r.users[conn.UserID]) == 0
	r.mu.Unlock()

	conn.Close()
	metrics.WsConnections.Dec()
	r.logger.Debug("connection removed",
		zap.String("user_id", conn.UserID),
		zap.String("conn_id", conn.ID),
		zap.Duration("lifetime", time.Since(conn.connectedAt)),
	)

	if last {
		r.setPresence(conn.UserID, false)
		r.BroadcastStatus(conn.UserID, false)
	}
}

func (r *Router) setPresence(userID string, online bool) {
	if r.presence == nil {
		return
	}
	write := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.presence.SetPresence(ctx, userID, online); err != nil {
			r.logger.Warn("update presence failed",
				zap.String("user_id", userID),
				zap.Bool("online", online),
				zap.Error(err),
			)
		}
	}
	if r.submit == nil {
		write()
		return
	}
	if err := r.submit(write); err != nil {
		r.logger.Warn("presence update dropped", zap.String("user_id", userID), zap.Error(err))
	}
}

// IsOnline reports whether the user has at least one live connection.
func (r *Router) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID]) > 0
}

// ConnectionCount returns the total number of active connections.
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// RoomSize returns the number of connections subscribed to a room.
func (r *Router) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[roomID])
}

// Shutdown closes every connection without presence updates.
func (r *Router) Shutdown() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(connSet)
	r.users = make(map[string]connSet)
	r.rooms = make(map[string]connSet)
	r.mu.Unlock()

	for conn := range conns {
		conn.Close()
		metrics.WsConnections.Dec()
	}
}

func add(topics map[string]connSet, key string, conn *Connection) {
	set, ok := topics[key]
	if !ok {
		set = make(connSet)
		topics[key] = set
	}
	set[conn] = struct{}{}
}

func remove(topics map[string]connSet, key string, conn *Connection) {
	set, ok := topics[key]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(topics, key)
	}
}
