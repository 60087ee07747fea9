package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"ransomhub/internal/ratelimit"
	"ransomhub/internal/util"
	"ransomhub/pkg/apperr"
	"ransomhub/pkg/domain"
	"ransomhub/pkg/storage"
	"ransomhub/services/account/internal/app"
	"ransomhub/services/account/internal/security"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                          *app.App
	Alerter                      *security.AuditAlerter
	RedisAddr                    string
	RedisPassword                string
	SignupRateLimitPerMinute     int
	LoginRateLimitPerMinute      int
	OTPRateLimitPerMinute        int
	ResendRateLimitPerMinute     int
	PaymentOTPRateLimitPerMinute int
	CaptchaRateLimitPerMinute    int
	AllowedOrigins               []string
	TrustedProxies               *util.TrustedProxies
}

// Server exposes the account HTTP API.
type Server struct {
	app            *app.App
	alerter        *security.AuditAlerter
	mux            *http.ServeMux
	allowedOrigins []string
	trusted        *util.TrustedProxies
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
	otpLimiter     *ratelimit.FixedWindowLimiter
	resendLimiter  *ratelimit.FixedWindowLimiter
	paymentLimiter *ratelimit.FixedWindowLimiter
	captchaLimiter *ratelimit.FixedWindowLimiter
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
		prefix := "ransomhub:account:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", cfg.SignupRateLimitPerMinute, 5)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", cfg.LoginRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	otpLimiter, err := newLimiter("otp", cfg.OTPRateLimitPerMinute, 5)
	if err != nil {
		return nil, err
	}
	resendLimiter, err := newLimiter("resend", cfg.ResendRateLimitPerMinute, 3)
	if err != nil {
		return nil, err
	}
	paymentLimiter, err := newLimiter("payment-otp", cfg.PaymentOTPRateLimitPerMinute, 5)
	if err != nil {
		return nil, err
	}
	captchaLimiter, err := newLimiter("captcha", cfg.CaptchaRateLimitPerMinute, 20)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		alerter:        cfg.Alerter,
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		trusted:        cfg.TrustedProxies,
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
		otpLimiter:     otpLimiter,
		resendLimiter:  resendLimiter,
		paymentLimiter: paymentLimiter,
		captchaLimiter: captchaLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	handler := util.WithRequestLog("account", s.mux)
	handler = util.WithRequestID(handler)
	handler = util.WithClientIP(s.trusted, handler)
	return util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, handler))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/verify-otp", s.handleVerifyOTP)
	s.mux.HandleFunc("/api/auth/resend-otp", s.handleResendOTP)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/api/auth/captcha", s.handleCaptcha)
	s.mux.HandleFunc("/api/auth/password-reset/send-otp", s.handleSendResetOTP)
	s.mux.HandleFunc("/api/auth/password-reset/confirm", s.handleResetPassword)

	// profile & relationships
	s.mux.Handle("/api/users/me", s.authenticated(s.handleProfile))
	s.mux.Handle("/api/users/me/image", s.authenticated(s.handleProfileImage))
	s.mux.Handle("/api/users/me/identity", s.authenticated(s.handleIdentity))
	s.mux.Handle("/api/users/me/followers", s.authenticated(s.handleFollowers))
	s.mux.Handle("/api/users/me/following", s.authenticated(s.handleFollowing))
	s.mux.Handle("/api/users/me/follow-requests", s.authenticated(s.handleFollowRequests))
	s.mux.Handle("/api/users/me/wishlist", s.authenticated(s.handleWishlist))
	s.mux.Handle("/api/users/", s.authenticated(s.handleUserAction))

	// marketplace
	s.mux.Handle("/api/items", s.authenticated(s.handleItems))
	s.mux.Handle("/api/items/", s.authenticated(s.handleItemByID))

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))
	s.mux.Handle("/api/admin/activity", s.adminOnly(s.handleAdminActivity))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.authorize(r)
		if err != nil {
			s.audit(r, "account.authorize", "fail", "reason", reasonOf(err))
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, caller)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.authorize(r)
		if err != nil {
			s.audit(r, "account.admin.authorize", "fail", "reason", reasonOf(err))
			s.writeAppError(w, r, err)
			return
		}
		if !caller.IsAdmin() {
			s.audit(r, "account.admin.authorize", "fail", "user_id", caller.UserID, "reason", "forbidden")
			s.writeAppError(w, r, app.ErrAdminOnly)
			return
		}
		s.audit(r, "account.admin.authorize", "success", "user_id", caller.UserID)
		next(w, r, caller)
	})
}

func (s *Server) authorize(r *http.Request) (domain.Identity, error) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.Identity{}, app.ErrUnauthenticated
	}
	return s.app.Authenticate(r.Context(), token)
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "account.signup", "rate_limited")
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "account.signup", "fail", "reason", "invalid_json")
		return
	}
	user, err := s.app.SignUp(r.Context(), app.SignUpInput{
		Name:                req.Name,
		Username:            req.Username,
		Email:               req.Email,
		Password:            req.Password,
		Phone:               req.Phone,
		PublicKey:           req.PublicKey,
		EncryptedPrivateKey: req.EncryptedPrivateKey,
		PrivateKeySalt:      req.PrivateKeySalt,
	}, clientIP(r))
	if err != nil {
		s.audit(r, "account.signup", "fail", "reason", reasonOf(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "account.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "User registered. Please verify OTP sent to email.",
	})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.otpLimiter, "too many verification attempts") {
		s.audit(r, "account.otp.verify", "rate_limited")
		return
	}
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		writeError(w, http.StatusBadRequest, "email and otp are required", "missing_fields")
		return
	}
	user, err := s.app.VerifyAccount(r.Context(), req.Email, req.OTP)
	if err != nil {
		s.audit(r, "account.otp.verify", "fail", "reason", reasonOf(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "account.otp.verify", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account verified successfully"})
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.resendLimiter, "too many resend attempts") {
		s.audit(r, "account.otp.resend", "rate_limited")
		return
	}
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.ResendAccountCode(r.Context(), req.Email); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP resent successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "account.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "account.login", "fail", "reason", "invalid_json")
		return
	}
	res, err := s.app.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		s.audit(r, "account.login", "fail", "reason", reasonOf(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "account.login", "success", "user_id", res.User.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:               res.Token,
		Email:               res.User.Email,
		Username:            res.User.Username,
		EncryptedPrivateKey: res.EncryptedPrivateKey,
		PrivateKeySalt:      res.PrivateKeySalt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "account.logout", "fail", "reason", "missing_token")
		s.writeAppError(w, r, app.ErrUnauthenticated)
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "account.logout", "fail", "reason", reasonOf(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "account.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.captchaLimiter, "too many captcha attempts") {
		s.audit(r, "account.captcha", "rate_limited")
		return
	}
	var req captchaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.VerifyCaptcha(r.Context(), req.Token, clientIP(r)); err != nil {
		s.audit(r, "account.captcha", "fail", "reason", reasonOf(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "account.captcha", "success")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSendResetOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.resendLimiter, "too many reset attempts") {
		s.audit(r, "account.password_reset.send", "rate_limited")
		return
	}
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.SendPasswordResetCode(r.Context(), req.Email); err != nil {
		s.audit(r, "account.password_reset.send", "fail", "reason", reasonOf(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "account.password_reset.send", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent to your email"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.otpLimiter, "too many reset attempts") {
		s.audit(r, "account.password_reset.confirm", "rate_limited")
		return
	}
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.app.ResetPassword(r.Context(), app.ResetPasswordInput{
		Email:               req.Email,
		Code:                req.OTP,
		NewPassword:         req.NewPassword,
		PublicKey:           req.PublicKey,
		EncryptedPrivateKey: req.EncryptedPrivateKey,
		PrivateKeySalt:      req.PrivateKeySalt,
	}, clientIP(r))
	if err != nil {
		s.audit(r, "account.password_reset.confirm", "fail", "reason", reasonOf(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "account.password_reset.confirm", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

// profile handlers
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	profile, err := s.app.Profile(r.Context(), caller)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	requests := make([]string, 0, len(profile.FollowRequests))
	for _, u := range profile.FollowRequests {
		requests = append(requests, u.Username)
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Username:       profile.User.Username,
		Email:          profile.User.Email,
		Name:           profile.User.Name,
		ProfileImage:   profile.ProfileImageURL,
		IsAdmin:        profile.User.Role == domain.RoleAdmin,
		IsApproved:     profile.User.IsApproved,
		FollowRequests: requests,
	})
}

func (s *Server) handleProfileImage(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	upload, ok := readUpload(w, r, "image")
	if !ok {
		return
	}
	url, err := s.app.UploadProfileImage(r.Context(), caller, upload.filename, upload.contentType, upload.data)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"profileImage": url})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	upload, ok := readUpload(w, r, "document")
	if !ok {
		return
	}
	if err := s.app.UploadIdentityDocument(r.Context(), caller, upload.contentType, upload.data); err != nil {
		s.audit(r, "account.identity", "fail", "user_id", caller.UserID, "reason", reasonOf(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "account.identity", "success", "user_id", caller.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Identity verified successfully"})
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	s.writeUserList(w, r, caller, s.app.Followers)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	s.writeUserList(w, r, caller, s.app.Following)
}

func (s *Server) handleFollowRequests(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	s.writeUserList(w, r, caller, s.app.FollowRequests)
}

func (s *Server) handleWishlist(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.app.Wishlist(r.Context(), caller)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (s *Server) writeUserList(w http.ResponseWriter, r *http.Request, caller domain.Identity, list func(context.Context, domain.Identity) ([]domain.User, error)) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := list(r.Context(), caller)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": names, "count": len(names)})
}

// /api/users/{username}/{action}
func (s *Server) handleUserAction(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	username, action := parts[0], parts[1]
	ctx := r.Context()
	ip := clientIP(r)

	if action == "relationship" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		rel, err := s.app.Relationship(ctx, caller, username)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rel)
		return
	}
	if action == "reviews" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		reviews, rating, err := s.app.SellerReviews(ctx, username)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":         reviews,
			"count":         len(reviews),
			"averageRating": rating.Average,
			"totalReviews":  rating.Count,
		})
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	switch action {
	case "follow":
		if err := s.app.SendFollowRequest(ctx, caller, username); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Follow request sent"})
	case "accept":
		if err := s.app.AcceptFollowRequest(ctx, caller, username); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Follow request accepted"})
	case "reject":
		if err := s.app.RejectFollowRequest(ctx, caller, username); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Follow request rejected"})
	case "block":
		created, err := s.app.BlockUser(ctx, caller, username, ip)
		if err != nil {
			s.audit(r, "account.block", "fail", "user_id", caller.UserID, "reason", reasonOf(err))
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "account.block", "success", "user_id", caller.UserID, "target", username)
		writeJSON(w, http.StatusOK, map[string]any{"blocked": true, "created": created})
	case "unblock":
		removed, err := s.app.UnblockUser(ctx, caller, username, ip)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"unblocked": removed})
	case "report":
		var req reportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.app.ReportUser(ctx, caller, username, req.Reason, ip); err != nil {
			s.audit(r, "account.report", "fail", "user_id", caller.UserID, "reason", reasonOf(err))
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "account.report", "success", "user_id", caller.UserID, "target", username)
		writeJSON(w, http.StatusOK, map[string]string{"message": "User reported and blocked"})
	default:
		http.NotFound(w, r)
	}
}

// /api/items
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListItems(r.Context(), domain.ItemStatus(r.URL.Query().Get("status")))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		out := make([]itemResponse, 0, len(items))
		for _, item := range items {
			out = append(out, s.itemResponse(r.Context(), item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out, "count": len(out)})
	case http.MethodPost:
		var req itemRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		item, err := s.app.CreateItem(r.Context(), caller, app.ItemInput{
			Title:       req.Title,
			Description: req.Description,
			Price:       req.Price,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, s.itemResponse(r.Context(), item))
	default:
		methodNotAllowed(w)
	}
}

// /api/items/{id}[/image|/wishlist|/review|/payment/{send-otp|verify-otp|resend-otp}]
func (s *Server) handleItemByID(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/api/items/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		item, err := s.app.GetItem(r.Context(), id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.itemResponse(r.Context(), item))
	case len(parts) == 2 && parts[1] == "image":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		upload, ok := readUpload(w, r, "image")
		if !ok {
			return
		}
		url, err := s.app.UploadItemImage(r.Context(), caller, id, upload.filename, upload.contentType, upload.data)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"image": url})
	case len(parts) == 2 && parts[1] == "wishlist":
		s.handleItemWishlist(w, r, caller, id)
	case len(parts) == 2 && parts[1] == "review":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req reviewRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		review, err := s.app.ReviewSeller(r.Context(), caller, id, app.ReviewInput{Rating: req.Rating, Comment: req.Comment})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, review)
	case len(parts) == 3 && parts[1] == "payment":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handlePayment(w, r, caller, id, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleItemWishlist(w http.ResponseWriter, r *http.Request, caller domain.Identity, itemID string) {
	switch r.Method {
	case http.MethodPost:
		entry, err := s.app.AddToWishlist(r.Context(), caller, itemID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	case http.MethodDelete:
		if err := s.app.RemoveFromWishlist(r.Context(), caller, itemID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request, caller domain.Identity, itemID, action string) {
	ctx := r.Context()
	switch action {
	case "send-otp":
		if !s.allowRate(w, r, s.paymentLimiter, "too many payment attempts") {
			s.audit(r, "payment.otp.send", "rate_limited")
			return
		}
		var req paymentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		payment, err := s.app.SendPaymentOTP(ctx, caller, itemID, domain.PaymentMethod(req.PaymentMethod))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "OTP sent to your email",
			"payment": payment,
		})
	case "verify-otp":
		if !s.allowRate(w, r, s.paymentLimiter, "too many payment attempts") {
			s.audit(r, "payment.otp.verify", "rate_limited")
			return
		}
		var req otpRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		payment, err := s.app.VerifyPaymentOTP(ctx, caller, itemID, req.OTP, clientIP(r))
		if err != nil {
			s.audit(r, "payment.otp.verify", "fail", "user_id", caller.UserID, "reason", reasonOf(err))
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "payment.otp.verify", "success", "user_id", caller.UserID, "payment_id", payment.ID)
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Payment verified successfully",
			"payment": payment,
		})
	case "resend-otp":
		if !s.allowRate(w, r, s.paymentLimiter, "too many payment attempts") {
			s.audit(r, "payment.otp.resend", "rate_limited")
			return
		}
		if err := s.app.ResendPaymentOTP(ctx, caller, itemID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "OTP resent successfully"})
	default:
		http.NotFound(w, r)
	}
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(r.Context(), caller)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": users,
		"count": len(users),
	})
}

// /api/admin/users/{id}[/verification-docs]
func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/admin/users/"), "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "verification-docs" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		doc, err := s.app.VerificationDoc(r.Context(), caller, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "account.admin.document", "success", "user_id", caller.UserID, "target_id", id)
		writeJSON(w, http.StatusOK, doc)
		return
	}
	switch r.Method {
	case http.MethodDelete:
		if err := s.app.DeleteUser(r.Context(), caller, id, clientIP(r)); err != nil {
			s.audit(r, "account.admin.remove", "fail", "user_id", caller.UserID, "target_id", id, "reason", reasonOf(err))
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "account.admin.remove", "success", "user_id", caller.UserID, "target_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"message": "User removed successfully"})
	case http.MethodPatch:
		var req adminUserUpdateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Suspended == nil && req.Approved == nil {
			writeError(w, http.StatusBadRequest, "suspended or approved is required", "missing_fields")
			return
		}
		out := map[string]any{"id": id}
		if req.Suspended != nil {
			if err := s.app.SetSuspended(r.Context(), caller, id, *req.Suspended, clientIP(r)); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			out["suspended"] = *req.Suspended
		}
		if req.Approved != nil {
			if err := s.app.SetApproved(r.Context(), caller, id, *req.Approved, clientIP(r)); err != nil {
				s.writeAppError(w, r, err)
				return
			}
			out["approved"] = *req.Approved
		}
		s.audit(r, "account.admin.moderate", "success", "user_id", caller.UserID, "target_id", id)
		writeJSON(w, http.StatusOK, out)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminActivity(w http.ResponseWriter, r *http.Request, caller domain.Identity) {
	if r.Method == http.MethodPost {
		var req logEntryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		entry, err := s.app.CreateLogEntry(r.Context(), caller, app.LogEntryInput{
			UserID:      req.UserID,
			Action:      domain.ActionType(strings.ToUpper(strings.TrimSpace(req.ActionType))),
			Description: req.Description,
			Metadata:    req.Metadata,
		}, clientIP(r))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter, err := parseActivityFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_filter")
		return
	}
	logs, err := s.app.ActivityLog(r.Context(), caller, filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": logs,
		"count": len(logs),
	})
}

func parseActivityFilter(r *http.Request) (domain.ActivityFilter, error) {
	q := r.URL.Query()
	filter := domain.ActivityFilter{Action: domain.ActionType(strings.ToUpper(strings.TrimSpace(q.Get("action"))))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}
	for key, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
			}
			*dst = t
		}
	}
	return filter, nil
}

func (s *Server) itemResponse(ctx context.Context, item domain.Item) itemResponse {
	return itemResponse{Item: item, Image: s.app.ItemImageURL(ctx, item)}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
}

type signupRequest struct {
	Name                string `json:"name"`
	Username            string `json:"username"`
	Email               string `json:"email"`
	Password            string `json:"password"`
	Phone               string `json:"phone"`
	PublicKey           string `json:"public_key"`
	EncryptedPrivateKey string `json:"encrypted_private_key"`
	PrivateKeySalt      string `json:"private_key_salt"`
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token               string `json:"token"`
	Email               string `json:"email"`
	Username            string `json:"username"`
	EncryptedPrivateKey string `json:"encrypted_private_key"`
	PrivateKeySalt      string `json:"private_key_salt"`
}

type resetPasswordRequest struct {
	Email               string `json:"email"`
	OTP                 string `json:"otp"`
	NewPassword         string `json:"new_password"`
	PublicKey           string `json:"public_key"`
	EncryptedPrivateKey string `json:"encrypted_private_key"`
	PrivateKeySalt      string `json:"private_key_salt"`
}

type captchaRequest struct {
	Token string `json:"token"`
}

type profileResponse struct {
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	ProfileImage   string   `json:"profileImage"`
	IsAdmin        bool     `json:"is_admin"`
	IsApproved     bool     `json:"is_approved"`
	FollowRequests []string `json:"followRequests"`
}

type reportRequest struct {
	Reason string `json:"reason"`
}

type itemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

type itemResponse struct {
	domain.Item
	Image string `json:"image,omitempty"`
}

type paymentRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type adminUserUpdateRequest struct {
	Suspended *bool `json:"suspended"`
	Approved  *bool `json:"approved"`
}

type logEntryRequest struct {
	UserID      string         `json:"userId"`
	ActionType  string         `json:"actionType"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

type upload struct {
	filename    string
	contentType string
	data        []byte
}

// readUpload reads a multipart file field. Oversized files are read one byte
// past the limit so validation reports them as too large.
func readUpload(w http.ResponseWriter, r *http.Request, field string) (upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadBytes+(64<<10))
	if err := r.ParseMultipartForm(storage.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, storage.ErrUploadTooLarge.Message, storage.ErrUploadTooLarge.Reason)
			return upload{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid form data", "invalid_form")
		return upload{}, false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file is required (field: %s)", field), storage.ErrUploadMissing.Reason)
		return upload{}, false
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, storage.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file", "invalid_form")
		return upload{}, false
	}
	return upload{
		filename:    header.Filename,
		contentType: header.Header.Get("Content-Type"),
		data:        data,
	}, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
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
	ip := clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			slog.String("event", event),
			slog.String("outcome", outcome),
			slog.String("ip", ip),
			slog.Int64("count", result.Count),
			slog.Int64("threshold", result.Threshold),
			slog.Duration("window", result.Window),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", limiter.RetryAfter())
	writeError(w, http.StatusTooManyRequests, msg, "rate_limited")
	return false
}

func clientIP(r *http.Request) string {
	return util.ClientIPFromRequest(r)
}
