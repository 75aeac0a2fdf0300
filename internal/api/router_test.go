package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/internal/handler"
	"github.com/Gopher0727/TimeChat/internal/pkg/blob"
	"github.com/Gopher0727/TimeChat/internal/pkg/gateway"
	"github.com/Gopher0727/TimeChat/internal/repository/memory"
	"github.com/Gopher0727/TimeChat/internal/service"
	"github.com/Gopher0727/TimeChat/middleware/jwt"
	logger "github.com/Gopher0727/TimeChat/middleware/log"
	"github.com/Gopher0727/TimeChat/utils/ratelimit"
)

type testServer struct {
	engine *gin.Engine
	router *gateway.Router
}

func defaultRateLimits() config.RateLimitConfig {
	return config.RateLimitConfig{
		RegisterPerMinute: 100,
		LoginPerMinute:    100,
		MessagePerMinute:  100,
		InvitePerMinute:   100,
		APIPerMinute:      1000,
	}
}

func newTestServer(t *testing.T, limits config.RateLimitConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	deps := service.Deps{
		Users:    store.Users(),
		Chats:    store.Chats(),
		Messages: store.Messages(),
		Invites:  store.Invites(),
	}
	chatCfg := config.ChatConfig{
		DefaultTTL:     5 * time.Hour,
		MaxMembers:     50,
		NameMaxLength:  100,
		GlobalRoomName: "Global Chat",
	}
	inviteCfg := config.InviteConfig{
		DefaultTTL:  time.Hour,
		CodeLength:  6,
		Alphabet:    service.DefaultAlphabet,
		MaxAttempts: 50,
	}
	uploadDir := t.TempDir()
	blobs, err := blob.NewLocalStore(&config.UploadConfig{
		Dir:          uploadDir,
		PublicPrefix: "/uploads",
		MaxBytes:     1 << 20,
	})
	require.NoError(t, err)

	tokens := jwt.NewTokenManager("test-secret", 1, 1)
	chats := service.NewChatService(deps, chatCfg)
	invites := service.NewInviteService(deps, inviteCfg, chats, service.NewCodeGenerator(deps.Invites, inviteCfg, nil))
	router := gateway.NewRouter(chats)
	chats.OnMembershipChange(router)
	messages := service.NewMessageService(deps, blobs, router)

	mw := NewMiddlewareManager(tokens, ratelimit.NewLocalLimiter(time.Minute), logger.NewNop(), &limits)
	engine := NewEngine(mw, Handlers{
		Auth:    handler.NewAuthHandler(service.NewAuthService(deps, tokens)),
		User:    handler.NewUserHandler(service.NewUserService(deps, nil, time.Minute)),
		Chat:    handler.NewChatHandler(chats, invites, router, nil),
		Invite:  handler.NewInviteHandler(invites, chats, router),
		Message: handler.NewMessageHandler(messages, 1<<20),
	}, Uploads{Dir: uploadDir, Prefix: "/uploads"})

	return &testServer{engine: engine, router: router}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type account struct {
	id    string
	token string
}

func (s *testServer) register(t *testing.T, name string) account {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name":     name,
		"email":    name + "@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp service.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return account{id: resp.User.ID, token: resp.Token}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, defaultRateLimits())

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(logger.TraceIDHeader))

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "timechat_ws_connections")
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t, defaultRateLimits())
	alice := s.register(t, "alice")

	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "alice", "email": "ALICE@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "email_taken", decodeBody[errorBody](t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "alice@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_credentials", decodeBody[errorBody](t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "alice@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/auth/profile", alice.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, alice.id, decodeBody[map[string]any](t, w)["id"])

	w = s.do(t, http.MethodGet, "/api/v1/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/auth/profile", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeBody[errorBody](t, w).Code)
}

func TestGroupInviteFlow(t *testing.T) {
	s := newTestServer(t, defaultRateLimits())
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")
	carol := s.register(t, "carol")
	dave := s.register(t, "dave")

	w := s.do(t, http.MethodPost, "/api/v1/chats/group", alice.token, gin.H{"name": "Team"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	group := decodeBody[struct {
		ID        string `json:"id"`
		Name      string `json:"chat_name"`
		JoinCode  string `json:"joinCode"`
		IsExpired bool   `json:"is_expired"`
	}](t, w)
	assert.Equal(t, "Team", group.Name)
	assert.Len(t, group.JoinCode, 6)
	assert.False(t, group.IsExpired)

	type redeemBody struct {
		Joined bool             `json:"joined"`
		Chat   service.ChatView `json:"chat"`
	}
	w = s.do(t, http.MethodPost, "/api/v1/invite-codes/redeem", bob.token, gin.H{"code": group.JoinCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decodeBody[redeemBody](t, w)
	assert.True(t, first.Joined)
	assert.Len(t, first.Chat.Users, 2)

	w = s.do(t, http.MethodPost, "/api/v1/invite-codes/redeem", bob.token, gin.H{"code": group.JoinCode})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[redeemBody](t, w).Joined)

	w = s.do(t, http.MethodGet, "/api/v1/invite-codes?room="+group.ID, bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	active := decodeBody[[]service.InviteView](t, w)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].UsageCount)

	one := 1
	w = s.do(t, http.MethodPost, "/api/v1/invite-codes", bob.token, gin.H{"chatId": group.ID, "maxUses": one})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	limited := decodeBody[service.InviteView](t, w)
	assert.NotEqual(t, group.JoinCode, limited.Code)

	w = s.do(t, http.MethodPost, "/api/v1/invite-codes/redeem", carol.token, gin.H{"code": limited.Code})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/invite-codes/redeem", dave.token, gin.H{"code": limited.Code})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "code_invalid", decodeBody[errorBody](t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/invite-codes/redeem", dave.token, gin.H{"code": group.JoinCode})
	assert.Equal(t, http.StatusNotFound, w.Code, "generation deactivates the previous code")

	w = s.do(t, http.MethodPost, "/api/v1/invite-codes/regenerate", bob.token, gin.H{"chatId": group.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_admin", decodeBody[errorBody](t, w).Code)

	w = s.do(t, http.MethodDelete, "/api/v1/invite-codes/"+limited.ID, dave.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodDelete, "/api/v1/invite-codes/"+limited.ID, alice.token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/chats", carol.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]service.ChatView](t, w), 1)
}

func TestChatAdministration(t *testing.T) {
	s := newTestServer(t, defaultRateLimits())
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")
	carol := s.register(t, "carol")

	w := s.do(t, http.MethodPost, "/api/v1/chats/group", alice.token, gin.H{"name": "Team", "users": []string{bob.id}})
	require.Equal(t, http.StatusCreated, w.Code)
	chatID := decodeBody[service.ChatView](t, w).ID

	w = s.do(t, http.MethodPut, "/api/v1/chats/"+chatID, bob.token, gin.H{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/chats/"+chatID, alice.token, gin.H{"name": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", decodeBody[service.ChatView](t, w).Name)

	w = s.do(t, http.MethodPut, "/api/v1/chats/"+chatID+"/add", alice.token, gin.H{"userId": carol.id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[service.ChatView](t, w).Users, 3)

	w = s.do(t, http.MethodPut, "/api/v1/chats/"+chatID+"/add", alice.token, gin.H{"userId": carol.id})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_member", decodeBody[errorBody](t, w).Code)

	// The admin leaves; bob was listed right after alice.
	w = s.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/leave", alice.token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/chats/"+chatID, bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeBody[service.ChatView](t, w)
	require.NotNil(t, view.GroupAdmin)
	assert.Equal(t, bob.id, view.GroupAdmin.ID)

	w = s.do(t, http.MethodGet, "/api/v1/chats/"+chatID, alice.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/chats/"+chatID+"/remove", bob.token, gin.H{"userId": carol.id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody[map[string]any](t, w)["deleted"])

	w = s.do(t, http.MethodPost, "/api/v1/chats/"+chatID+"/leave", bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, w)["deleted"])

	w = s.do(t, http.MethodGet, "/api/v1/chats/"+chatID, bob.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "chat_not_found", decodeBody[errorBody](t, w).Code)
}

func TestDirectAndGlobalChats(t *testing.T) {
	s := newTestServer(t, defaultRateLimits())
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	w := s.do(t, http.MethodPost, "/api/v1/chats", alice.token, gin.H{"userId": bob.id})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decodeBody[service.ChatView](t, w)
	assert.False(t, first.IsGroupChat)
	assert.Equal(t, "bob", first.Name)

	w = s.do(t, http.MethodPost, "/api/v1/chats", bob.token, gin.H{"userId": alice.id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.ID, decodeBody[service.ChatView](t, w).ID)

	w = s.do(t, http.MethodPost, "/api/v1/invite-codes", alice.token, gin.H{"chatId": first.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "direct_chat", decodeBody[errorBody](t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/chats/global", alice.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	global := decodeBody[service.ChatView](t, w)
	assert.Nil(t, global.ExpiresAt)

	w = s.do(t, http.MethodPost, "/api/v1/chats/global", bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	again := decodeBody[service.ChatView](t, w)
	assert.Equal(t, global.ID, again.ID)
	assert.Len(t, again.Users, 2)
}

func TestMessageEndpoints(t *testing.T) {
	s := newTestServer(t, defaultRateLimits())
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")
	mallory := s.register(t, "mallory")

	w := s.do(t, http.MethodPost, "/api/v1/chats/group", alice.token, gin.H{"name": "Team", "users": []string{bob.id}})
	require.Equal(t, http.StatusCreated, w.Code)
	chatID := decodeBody[service.ChatView](t, w).ID

	w = s.do(t, http.MethodPost, "/api/v1/messages", alice.token, gin.H{"chatId": chatID, "content": "hello"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "hello", decodeBody[service.MessageView](t, w).Content)

	w = s.do(t, http.MethodPost, "/api/v1/messages", mallory.token, gin.H{"chatId": chatID, "content": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/messages", alice.token, gin.H{"chatId": chatID, "content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/messages/"+chatID, bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decodeBody[[]service.MessageView](t, w)
	require.Len(t, msgs, 1)

	w = s.do(t, http.MethodPut, "/api/v1/messages/"+chatID+"/read", bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/messages/"+chatID, alice.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeBody[[]service.MessageView](t, w)[0].ReadBy, bob.id)

	w = s.do(t, http.MethodGet, "/api/v1/chats/"+chatID+"/export", bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "chat-"+chatID+".json")
	assert.Len(t, decodeBody[service.ExportView](t, w).Messages, 1)
}

var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func TestFileUpload(t *testing.T) {
	s := newTestServer(t, defaultRateLimits())
	alice := s.register(t, "alice")

	w := s.do(t, http.MethodPost, "/api/v1/chats/group", alice.token, gin.H{"name": "Pics"})
	require.Equal(t, http.StatusCreated, w.Code)
	chatID := decodeBody[service.ChatView](t, w).ID

	upload := func(name string, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("chatId", chatID))
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/file", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+alice.token)
		rec := httptest.NewRecorder()
		s.engine.ServeHTTP(rec, req)
		return rec
	}

	w = upload("dot.png", tinyPNG)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decodeBody[service.MessageView](t, w)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "📎 dot.png", msg.Content)

	w = s.do(t, http.MethodGet, msg.Attachment.URL, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tinyPNG, w.Body.Bytes())

	w = upload("run.exe", []byte("MZ\x90\x00binary"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitedRegistration(t *testing.T) {
	limits := defaultRateLimits()
	limits.RegisterPerMinute = 2
	s := newTestServer(t, limits)

	s.register(t, "a")
	s.register(t, "b")
	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "c", "email": "c@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decodeBody[errorBody](t, w).Code)
}
