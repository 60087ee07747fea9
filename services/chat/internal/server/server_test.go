package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"ransomhub/pkg/auth"
	"ransomhub/pkg/domain"
	"ransomhub/pkg/store"
	"ransomhub/services/chat/internal/app"
)

type testEnv struct {
	url      string
	store    *store.GormStore
	sessions *auth.Sessions
}

func newTestEnv(t *testing.T, cfg Config) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	redis := miniredis.RunT(t)
	sessions, err := auth.NewSessions(auth.SessionConfig{
		Secret:  strings.Repeat("k", 40),
		Revoker: auth.NewRedisTokenRevoker(redis.Addr(), "", ""),
	})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	core, err := app.New(app.Config{Store: st, Sessions: sessions, Logger: logger})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = core
	cfg.RedisAddr = redis.Addr()
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testEnv{url: ts.URL, store: st, sessions: sessions}
}

// seed creates a verified user and returns a bearer token for it.
func (e testEnv) seed(t *testing.T, username string) string {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{
		ID:           "id-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		IsVerified:   true,
		PublicKey:    "pub-" + username,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	token, err := e.sessions.Issue(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, status int, reason string) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", status, resp.StatusCode, body)
	}
	if reason == "" {
		return
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if out["reason"] != reason {
		t.Fatalf("expected reason %q, got %q", reason, out["reason"])
	}
}

func TestRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t, Config{})
	expectStatus(t, do(t, http.MethodGet, env.url+"/api/groups/all", "", nil), http.StatusUnauthorized, "unauthorized")
	expectStatus(t, do(t, http.MethodGet, env.url+"/api/groups/all", "not-a-token", nil), http.StatusUnauthorized, "unauthorized")
}

func TestDirectMessageRoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.seed(t, "alice")
	bob := env.seed(t, "bob")

	resp := do(t, http.MethodPost, env.url+"/api/messages", alice, map[string]string{"recipient": "bob", "message": "c1", "iv": "iv1"})
	expectStatus(t, resp, http.StatusOK, "")

	resp = do(t, http.MethodGet, env.url+"/api/messages?sender=alice&recipient=bob", alice, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch status %d", resp.StatusCode)
	}
	var conv app.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Message != "c1" || conv.Messages[0].Type != domain.MessageText {
		t.Fatalf("unexpected thread: %+v", conv)
	}

	// bob may not read the thread as alice
	expectStatus(t, do(t, http.MethodGet, env.url+"/api/messages?sender=alice&recipient=bob", bob, nil), http.StatusUnauthorized, "not_participant")
	expectStatus(t, do(t, http.MethodPost, env.url+"/api/messages", alice, map[string]string{"recipient": "ghost", "message": "x"}), http.StatusNotFound, "user_not_found")
	expectStatus(t, do(t, http.MethodPost, env.url+"/api/messages", alice, map[string]string{"recipient": "bob", "message": strings.Repeat("x", 257)}), http.StatusBadRequest, "message_too_long")
	expectStatus(t, do(t, http.MethodDelete, env.url+"/api/messages", alice, nil), http.StatusMethodNotAllowed, "method_not_allowed")
}

func TestGroupEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.seed(t, "alice")
	env.seed(t, "bob")
	carol := env.seed(t, "carol")

	resp := do(t, http.MethodPost, env.url+"/api/groups", alice, map[string]any{"name": "Study", "members": []string{"alice", "bob"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	id := created["id"]
	if id != app.GroupID("Study", []string{"alice", "bob"}) {
		t.Fatalf("unexpected group id %q", id)
	}
	expectStatus(t, do(t, http.MethodPost, env.url+"/api/groups", alice, map[string]any{"name": "Study", "members": []string{"alice", "bob"}}), http.StatusConflict, "duplicate_group")

	expectStatus(t, do(t, http.MethodPost, env.url+"/api/groups/"+id+"/messages", alice, map[string]string{"message": "hello"}), http.StatusOK, "")
	expectStatus(t, do(t, http.MethodGet, env.url+"/api/groups/"+id+"/messages", carol, nil), http.StatusUnauthorized, "not_member")
	expectStatus(t, do(t, http.MethodPost, env.url+"/api/groups/"+id+"/messages", carol, map[string]string{"message": "hi"}), http.StatusForbidden, "not_member")

	resp = do(t, http.MethodGet, env.url+"/api/groups/"+id+"/messages", alice, nil)
	var entries []domain.ConversationEntry
	_ = json.NewDecoder(resp.Body).Decode(&entries)
	resp.Body.Close()
	if len(entries) != 1 || entries[0].Message != "hello" || entries[0].GroupID != id {
		t.Fatalf("unexpected group thread: %+v", entries)
	}

	expectStatus(t, do(t, http.MethodPost, env.url+"/api/groups/"+id+"/members", alice, map[string]any{"members": []string{"bob"}}), http.StatusConflict, "already_member")
	expectStatus(t, do(t, http.MethodPost, env.url+"/api/groups/"+id+"/members", alice, map[string]any{"members": []string{"carol"}}), http.StatusOK, "")

	resp = do(t, http.MethodGet, env.url+"/api/groups?user=carol", alice, nil)
	var groups []domain.Group
	_ = json.NewDecoder(resp.Body).Decode(&groups)
	resp.Body.Close()
	if len(groups) != 1 || groups[0].ID != id || len(groups[0].Members) != 3 {
		t.Fatalf("unexpected groups for carol: %+v", groups)
	}
	expectStatus(t, do(t, http.MethodGet, env.url+"/api/groups/missing/members", alice, nil), http.StatusNotFound, "group_not_found")
}

func TestMessageRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{MessageRateLimitPerMinute: 2})
	alice := env.seed(t, "alice")
	env.seed(t, "bob")

	body := map[string]string{"recipient": "bob", "message": "m", "iv": "iv"}
	for i := 0; i < 2; i++ {
		expectStatus(t, do(t, http.MethodPost, env.url+"/api/messages", alice, body), http.StatusOK, "")
	}
	resp := do(t, http.MethodPost, env.url+"/api/messages", alice, body)
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", resp.Header.Get("Retry-After"))
	}
	expectStatus(t, resp, http.StatusTooManyRequests, "rate_limited")
}

func TestPublicKeyAndLedgerWithoutConfig(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.seed(t, "alice")

	resp := do(t, http.MethodGet, env.url+"/api/public-key?username=alice", alice, nil)
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if out["public_key"] != "pub-alice" {
		t.Fatalf("unexpected public key response: %v", out)
	}
	expectStatus(t, do(t, http.MethodGet, env.url+"/api/public-key", alice, nil), http.StatusBadRequest, "username_required")
	expectStatus(t, do(t, http.MethodGet, env.url+"/api/ledger/messages", alice, nil), http.StatusBadGateway, "ledger_unavailable")
}

func TestNewRequiresRedis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	sessions, err := auth.NewSessions(auth.SessionConfig{Secret: strings.Repeat("k", 40)})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	core, err := app.New(app.Config{Store: st, Sessions: sessions, Logger: logger})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := New(Config{App: core}); err == nil {
		t.Fatalf("expected error without redis addr")
	}
}
