package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"ransomhub/internal/ratelimit"
	"ransomhub/internal/util"
	"ransomhub/pkg/apperr"
	"ransomhub/pkg/domain"
	"ransomhub/services/chat/internal/app"
)

const (
	maxJSONBody = 1 << 20
	// base64 inflates the 1MB file cap by a third
	maxFileBody = 2 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	RedisAddr                 string
	RedisPassword             string
	MessageRateLimitPerMinute int
	FileRateLimitPerMinute    int
	GroupRateLimitPerMinute   int
	AllowedOrigins            []string
	TrustedProxies            *util.TrustedProxies
}

// Server exposes the chat HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	allowedOrigins []string
	trusted        *util.TrustedProxies
	messageLimiter *ratelimit.FixedWindowLimiter
	fileLimiter    *ratelimit.FixedWindowLimiter
	groupLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		prefix := "ransomhub:chat:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	messageLimiter, err := newLimiter("message", cfg.MessageRateLimitPerMinute, 60)
	if err != nil {
		return nil, err
	}
	fileLimiter, err := newLimiter("file", cfg.FileRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	groupLimiter, err := newLimiter("group", cfg.GroupRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		trusted:        cfg.TrustedProxies,
		messageLimiter: messageLimiter,
		fileLimiter:    fileLimiter,
		groupLimiter:   groupLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	handler := util.WithRequestLog("chat", s.mux)
	handler = util.WithRequestID(handler)
	handler = util.WithClientIP(s.trusted, handler)
	return util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, handler))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	// direct
	s.mux.Handle("/api/messages", s.authenticated(s.handleMessages))
	s.mux.Handle("/api/files", s.authenticated(s.handleFiles))

	// groups
	s.mux.Handle("/api/groups", s.authenticated(s.handleGroups))
	s.mux.Handle("/api/groups/all", s.authenticated(s.handleAllGroups))
	s.mux.Handle("/api/groups/", s.authenticated(s.handleGroupByID))

	s.mux.Handle("/api/public-key", s.authenticated(s.handlePublicKey))
	s.mux.Handle("/api/ledger/messages", s.authenticated(s.handleLedgerMessages))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "chat.authorize", "fail", "reason", "missing_token")
			s.writeAppError(w, r, app.ErrUnauthenticated)
			return
		}
		caller, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			s.audit(r, "chat.authorize", "fail", "reason", reasonOf(err))
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, caller)
	})
}

// /api/messages: POST sends a direct text, GET reads a thread.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		conv, err := s.app.FetchConversation(r.Context(), caller, q.Get("sender"), q.Get("recipient"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodPost:
		if !s.allowRate(w, r, s.messageLimiter, caller, "too many messages") {
			return
		}
		var req messageRequest
		if !decodeJSON(w, r, &req, maxJSONBody) {
			return
		}
		if _, err := s.app.SendDirectMessage(r.Context(), caller, req.Recipient, req.Message, req.IV); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Message sent"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.fileLimiter, caller, "too many files") {
		return
	}
	var req fileRequest
	if !decodeJSON(w, r, &req, maxFileBody) {
		return
	}
	if _, err := s.app.SendDirectFile(r.Context(), caller, req.Recipient, req.input()); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "File sent"})
}

// /api/groups: POST creates, GET lists the groups of ?user (default caller).
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		username := r.URL.Query().Get("user")
		if username == "" {
			username = caller.Username
		}
		groups, err := s.app.ListGroupsForUser(r.Context(), username)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
	case http.MethodPost:
		if !s.allowRate(w, r, s.groupLimiter, caller, "too many group changes") {
			return
		}
		var req groupRequest
		if !decodeJSON(w, r, &req, maxJSONBody) {
			return
		}
		group, err := s.app.CreateGroup(r.Context(), caller, req.Name, req.Members)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"message": "Group created", "id": group.ID})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAllGroups(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	groups, err := s.app.ListAllGroups(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// /api/groups/{id}/{messages|files|members}
func (s *Server) handleGroupByID(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/api/groups/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	groupID, resource := parts[0], parts[1]
	ctx := r.Context()

	switch resource {
	case "messages":
		switch r.Method {
		case http.MethodGet:
			entries, err := s.app.FetchGroupConversation(ctx, caller, groupID)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, entries)
		case http.MethodPost:
			if !s.allowRate(w, r, s.messageLimiter, caller, "too many messages") {
				return
			}
			var req messageRequest
			if !decodeJSON(w, r, &req, maxJSONBody) {
				return
			}
			if _, err := s.app.SendGroupMessage(ctx, caller, groupID, req.Message); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"message": "Message sent"})
		default:
			methodNotAllowed(w)
		}
	case "files":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.allowRate(w, r, s.fileLimiter, caller, "too many files") {
			return
		}
		var req fileRequest
		if !decodeJSON(w, r, &req, maxFileBody) {
			return
		}
		if _, err := s.app.SendGroupFile(ctx, caller, groupID, req.input()); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "File sent"})
	case "members":
		switch r.Method {
		case http.MethodGet:
			members, err := s.app.GroupMembers(ctx, caller, groupID)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"members": members})
		case http.MethodPost:
			if !s.allowRate(w, r, s.groupLimiter, caller, "too many group changes") {
				return
			}
			var req membersRequest
			if !decodeJSON(w, r, &req, maxJSONBody) {
				return
			}
			group, err := s.app.AddMembers(ctx, caller, groupID, req.Members)
			if err != nil {
				s.audit(r, "chat.group.add_members", "fail", "user_id", caller.UserID, "group_id", groupID, "reason", reasonOf(err))
				s.writeAppError(w, r, err)
				return
			}
			s.audit(r, "chat.group.add_members", "success", "user_id", caller.UserID, "group_id", groupID)
			writeJSON(w, http.StatusOK, group)
		default:
			methodNotAllowed(w)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	key, err := s.app.PublicKey(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": key})
}

func (s *Server) handleLedgerMessages(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	messages, err := s.app.LedgerMessages(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
}

type messageRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	IV        string `json:"iv"`
}

type fileRequest struct {
	Recipient string `json:"recipient"`
	File      string `json:"file"`
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	IV        string `json:"iv"`
}

func (f fileRequest) input() app.FileInput {
	return app.FileInput{Data: f.File, Filename: f.FileName, FileType: f.FileType, IV: f.IV}
}

type groupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type membersRequest struct {
	Members []string `json:"members"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, limit)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_json")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, map[string]string{"error": msg, "reason": reason})
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	reason, msg := apperr.Public(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, msg, reason)
}

func reasonOf(err error) string {
	reason, _ := apperr.Public(err)
	return reason
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIPFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate keys on path and caller id.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, caller domain.Identity, msg string) bool {
	key := r.URL.Path + "|" + caller.UserID
	if limiter.Allow(r.Context(), key) {
		return true
	}
	s.audit(r, "chat.rate_limited", "rate_limited", "user_id", caller.UserID)
	w.Header().Set("Retry-After", limiter.RetryAfter())
	writeError(w, http.StatusTooManyRequests, msg, "rate_limited")
	return false
}
