package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"ransomhub/internal/ratelimit"
	"ransomhub/internal/util"
)

var proxiedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_proxied_requests_total",
	Help: "Requests forwarded to an upstream service, by upstream and status class.",
}, []string{"upstream", "class"})

// Headers owned by the gateway middleware; upstream copies are dropped so
// clients never see them twice.
var gatewayHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Headers",
	"Access-Control-Allow-Methods",
	"Vary",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Referrer-Policy",
	"Content-Security-Policy",
	"Strict-Transport-Security",
	util.RequestIDHeader,
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	AccountURL                string
	ChatURL                   string
	RedisAddr                 string
	RedisPassword             string
	RequestRateLimitPerMinute int
	UpstreamTimeout           time.Duration
	AllowedOrigins            []string
	TrustedProxies            *util.TrustedProxies
}

// Server is the single public entry point in front of the account and chat
// services.
type Server struct {
	mux            *http.ServeMux
	allowedOrigins []string
	trusted        *util.TrustedProxies
	limiter        *ratelimit.FixedWindowLimiter
}

// route maps a path prefix to an upstream. A prefix ending in "/" matches
// the whole subtree.
type route struct {
	prefix   string
	upstream string
}

var accountRoutes = []string{"/api/auth/", "/api/users/", "/api/items", "/api/items/", "/api/admin/"}

var chatRoutes = []string{"/api/messages", "/api/files", "/api/groups", "/api/groups/", "/api/public-key", "/api/ledger/"}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	accountURL, err := parseUpstream("account", cfg.AccountURL)
	if err != nil {
		return nil, err
	}
	chatURL, err := parseUpstream("chat", cfg.ChatURL)
	if err != nil {
		return nil, err
	}
	limit := cfg.RequestRateLimitPerMinute
	if limit <= 0 {
		limit = 300
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "ransomhub:gateway:ratelimit:ip", limit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init gateway limiter: %w", err)
	}
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	s := &Server{
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		trusted:        cfg.TrustedProxies,
		limiter:        limiter,
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	account := s.limited(newProxy("account", accountURL, transport))
	for _, prefix := range accountRoutes {
		s.mux.Handle(prefix, account)
	}
	chat := s.limited(newProxy("chat", chatURL, transport))
	for _, prefix := range chatRoutes {
		s.mux.Handle(prefix, chat)
	}
	s.mux.HandleFunc("/", s.handleNotFound)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	handler := util.WithRequestLog("gateway", s.mux)
	handler = util.WithRequestID(handler)
	handler = util.WithClientIP(s.trusted, handler)
	return util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, handler))
}

func parseUpstream(name, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s upstream url is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s upstream url %q", name, raw)
	}
	return u, nil
}

func newProxy(name string, target *url.URL, transport http.RoundTripper) http.Handler {
	return &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			// the caller IP was resolved against the gateway's trusted proxies;
			// upstreams only need to trust the gateway hop
			pr.Out.Header.Set("X-Forwarded-For", util.ClientIPFromRequest(pr.In))
			pr.Out.Header.Set("X-Forwarded-Host", pr.In.Host)
			proto := "http"
			if pr.In.TLS != nil {
				proto = "https"
			}
			pr.Out.Header.Set("X-Forwarded-Proto", proto)
			pr.Out.Header.Set(util.RequestIDHeader, util.RequestIDFromRequest(pr.In))
		},
		ModifyResponse: func(resp *http.Response) error {
			for _, h := range gatewayHeaders {
				resp.Header.Del(h)
			}
			proxiedRequests.WithLabelValues(name, statusClass(resp.StatusCode)).Inc()
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			proxiedRequests.WithLabelValues(name, "error").Inc()
			util.LoggerFromContext(r.Context()).Error("upstream_failed", "upstream", name, "path", r.URL.Path, "err", err)
			writeError(w, http.StatusBadGateway, "upstream unavailable", "upstream_unavailable")
		},
	}
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func (s *Server) limited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := util.ClientIPFromRequest(r)
		if !s.limiter.Allow(r.Context(), ip) {
			util.LoggerFromContext(r.Context()).Warn("security_event",
				"event", "gateway.rate_limited",
				"outcome", "fail",
				"path", r.URL.Path,
				"method", r.Method,
				"ip", ip,
			)
			w.Header().Set("Retry-After", s.limiter.RetryAfter())
			writeError(w, http.StatusTooManyRequests, "too many requests", "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found", "not_found")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, map[string]string{"error": msg, "reason": reason})
}
