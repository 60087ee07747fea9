package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"ransomhub/internal/util"
)

// echoUpstream reports which service answered and what the gateway forwarded.
func echoUpstream(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(util.WithCORS(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
		writeJSON(w, http.StatusOK, map[string]string{
			"service":    name,
			"path":       r.URL.Path,
			"query":      r.URL.RawQuery,
			"auth":       r.Header.Get("Authorization"),
			"request_id": r.Header.Get("X-Request-Id"),
			"forwarded":  r.Header.Get("X-Forwarded-For"),
		})
	})))
	t.Cleanup(srv.Close)
	return srv
}

func newGateway(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	if cfg.AccountURL == "" {
		cfg.AccountURL = echoUpstream(t, "account").URL
	}
	if cfg.ChatURL == "" {
		cfg.ChatURL = echoUpstream(t, "chat").URL
	}
	cfg.RedisAddr = miniredis.RunT(t).Addr()
	gw, err := New(cfg)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	srv := httptest.NewServer(gw.Router())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, header map[string]string) (*http.Response, map[string]string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	out := map[string]string{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestGatewayRoutesByPrefix(t *testing.T) {
	gw := newGateway(t, Config{})
	cases := map[string]string{
		"/api/auth/login":                    "account",
		"/api/users/me/followers":            "account",
		"/api/items":                         "account",
		"/api/items/abc/payment":             "account",
		"/api/admin/activity":                "account",
		"/api/messages?sender=a&recipient=b": "chat",
		"/api/files":                         "chat",
		"/api/groups":                        "chat",
		"/api/groups/abc123/members":         "chat",
		"/api/public-key?username=alice":     "chat",
		"/api/ledger/messages":               "chat",
	}
	for path, want := range cases {
		resp, body := get(t, gw.URL+path, map[string]string{"Authorization": "Bearer tok"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		if body["service"] != want {
			t.Fatalf("%s: routed to %q, want %q", path, body["service"], want)
		}
		if body["auth"] != "Bearer tok" {
			t.Fatalf("%s: authorization header not forwarded", path)
		}
	}
	_, body := get(t, gw.URL+"/api/messages?sender=a&recipient=b", nil)
	if body["query"] != "sender=a&recipient=b" {
		t.Fatalf("query not forwarded: %q", body["query"])
	}
}

func TestGatewayForwardsRequestIDWithoutDuplicateHeaders(t *testing.T) {
	gw := newGateway(t, Config{})
	resp, body := get(t, gw.URL+"/api/groups", map[string]string{"X-Request-Id": "req-1"})
	if body["request_id"] != "req-1" {
		t.Fatalf("request id not forwarded: %q", body["request_id"])
	}
	if body["forwarded"] != "127.0.0.1" {
		t.Fatalf("unexpected forwarded for: %q", body["forwarded"])
	}
	for _, h := range []string{"X-Request-Id", "Access-Control-Allow-Origin", "X-Frame-Options"} {
		if got := resp.Header.Values(h); len(got) != 1 {
			t.Fatalf("expected one %s header, got %v", h, got)
		}
	}
}

func TestGatewayRateLimitsPerIP(t *testing.T) {
	gw := newGateway(t, Config{RequestRateLimitPerMinute: 2})
	for i := 0; i < 2; i++ {
		if resp, _ := get(t, gw.URL+"/api/groups", nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i, resp.StatusCode)
		}
	}
	resp, body := get(t, gw.URL+"/api/auth/login", nil)
	if resp.StatusCode != http.StatusTooManyRequests || body["reason"] != "rate_limited" {
		t.Fatalf("expected 429 rate_limited, got %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", resp.Header.Get("Retry-After"))
	}
	if resp, _ := get(t, gw.URL+"/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz must not be rate limited, got %d", resp.StatusCode)
	}
}

func TestGatewayUpstreamDownAndUnknownPath(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	gw := newGateway(t, Config{ChatURL: downURL})
	resp, body := get(t, gw.URL+"/api/messages", nil)
	if resp.StatusCode != http.StatusBadGateway || body["reason"] != "upstream_unavailable" {
		t.Fatalf("expected 502 upstream_unavailable, got %d %v", resp.StatusCode, body)
	}
	resp, body = get(t, gw.URL+"/api/unknown", nil)
	if resp.StatusCode != http.StatusNotFound || body["reason"] != "not_found" {
		t.Fatalf("expected 404, got %d %v", resp.StatusCode, body)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	redis := miniredis.RunT(t)
	if _, err := New(Config{ChatURL: "http://chat:8082", RedisAddr: redis.Addr()}); err == nil {
		t.Fatalf("expected error without account url")
	}
	if _, err := New(Config{AccountURL: "account:8081", ChatURL: "http://chat:8082", RedisAddr: redis.Addr()}); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
	if _, err := New(Config{AccountURL: "http://account:8081", ChatURL: "http://chat:8082"}); err == nil {
		t.Fatalf("expected error without redis addr")
	}
}
