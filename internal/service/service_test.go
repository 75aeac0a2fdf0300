package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	roomID  string
	payload any
	exclude string
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []published
}

func (b *recordingBroadcaster) PublishMessage(roomID string, payload any, excludeUserID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, published{roomID: roomID, payload: payload, exclude: excludeUserID})
}

func (b *recordingBroadcaster) NotifyUsers([]string, string, any) {}

type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	deps     Deps
	codes    *CodeGenerator
	chats    *ChatService
	invites  *InviteService
	messages *MessageService
	bc       *recordingBroadcaster
	nextUser int
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		DefaultTTL:     5 * time.Hour,
		MaxMembers:     50,
		NameMaxLength:  100,
		GlobalRoomName: "Global Chat",
	}
}

func testInviteConfig() config.InviteConfig {
	return config.InviteConfig{
		DefaultTTL:  time.Hour,
		CodeLength:  6,
		Alphabet:    DefaultAlphabet,
		MaxAttempts: 50,
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, testChatConfig())
}

func newFixtureWith(t *testing.T, chatCfg config.ChatConfig) *fixture {
	t.Helper()

	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	deps := Deps{
		Users:    store.Users(),
		Chats:    store.Chats(),
		Messages: store.Messages(),
		Invites:  store.Invites(),
		Now:      clock.Now,
	}
	codes := NewCodeGenerator(deps.Invites, testInviteConfig(), nil)
	chats := NewChatService(deps, chatCfg)
	bc := &recordingBroadcaster{}
	return &fixture{
		store:    store,
		clock:    clock,
		deps:     deps,
		codes:    codes,
		chats:    chats,
		invites:  NewInviteService(deps, testInviteConfig(), chats, codes),
		messages: NewMessageService(deps, nil, bc),
		bc:       bc,
	}
}

// user stores a user directly and returns its id.
func (f *fixture) user(t *testing.T) string {
	t.Helper()
	f.nextUser++
	u := &model.User{
		ID:    fmt.Sprintf("u%03d", f.nextUser),
		Name:  fmt.Sprintf("User %d", f.nextUser),
		Email: fmt.Sprintf("user%d@example.com", f.nextUser),
	}
	require.NoError(t, f.deps.Users.Create(context.Background(), u))
	return u.ID
}

func (f *fixture) users(t *testing.T, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.user(t)
	}
	return ids
}

func (f *fixture) group(t *testing.T, name, creator string, members ...string) *model.ChatRoom {
	t.Helper()
	room, err := f.chats.CreateRoom(context.Background(), creator, CreateRoomInput{
		Name:      name,
		MemberIDs: members,
		IsGroup:   true,
	})
	require.NoError(t, err)
	return room
}
