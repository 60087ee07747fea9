package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"ransomhub/internal/ratelimit"
	"ransomhub/internal/util"
	"ransomhub/pkg/auth"
	"ransomhub/pkg/domain"
	"ransomhub/pkg/storage"
	"ransomhub/pkg/store"
	"ransomhub/pkg/verification"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,32}$`)

// CaptchaVerifier checks an anonymous caller's CAPTCHA token.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	SessionTTL    time.Duration

	Store    store.Store
	Sessions *auth.Sessions
	Mailer   verification.Mailer
	Objects  storage.ObjectStore
	Captcha  CaptchaVerifier
	Cooldown ratelimit.CooldownPolicy
	Logger   *slog.Logger
}

// App is the account service core: identities, the relationship graph,
// marketplace payments and moderation.
type App struct {
	store         store.Store
	sessions      *auth.Sessions
	accountCodes  *verification.Engine
	paymentCodes  *verification.Engine
	resetCodes    *verification.Engine
	objects       storage.ObjectStore
	captcha       CaptchaVerifier
	cooldown      ratelimit.CooldownPolicy
	logger        *slog.Logger
	presignExpiry time.Duration
	now           func() time.Time
}

// New constructs the application, opening the database and session store
// when they are not injected.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessions := cfg.Sessions
	if sessions == nil {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("redisAddr is required for token revocation")
		}
		var err error
		sessions, err = auth.NewSessions(auth.SessionConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			TTL:      cfg.SessionTTL,
			Revoker:  auth.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("init sessions: %w", err)
		}
	}

	mailer := cfg.Mailer
	if mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	accountCodes, err := verification.NewEngine(verification.Config{
		Codes:   store.UserCodes{Users: dataStore},
		Mailer:  mailer,
		Subject: "Your OTP for Account Verification",
		Body:    "Your OTP is: %s. Please enter it in the app to verify your account.",
	})
	if err != nil {
		return nil, err
	}
	paymentCodes, err := verification.NewEngine(verification.Config{
		Codes:   store.PaymentCodes{Payments: dataStore},
		Mailer:  mailer,
		Subject: "Payment Verification OTP for RansomHub",
		Body:    "Your OTP for verifying payment on RansomHub is: %s\n\nIf you did not request this code, please ignore this email.",
	})
	if err != nil {
		return nil, err
	}

	resetCodes, err := verification.NewEngine(verification.Config{
		Codes:   store.ResetCodes{Users: dataStore},
		Mailer:  mailer,
		Subject: "Password Reset OTP",
		Body:    "Your OTP for password reset is: %s",
	})
	if err != nil {
		return nil, err
	}

	cooldown := cfg.Cooldown
	if cooldown == (ratelimit.CooldownPolicy{}) {
		cooldown = ratelimit.DefaultCooldownPolicy()
	}

	return &App{
		store:         dataStore,
		sessions:      sessions,
		accountCodes:  accountCodes,
		paymentCodes:  paymentCodes,
		resetCodes:    resetCodes,
		objects:       cfg.Objects,
		captcha:       cfg.Captcha,
		cooldown:      cooldown,
		logger:        logger,
		presignExpiry: time.Hour,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// SignUpInput carries the registration form. Key material is opaque.
type SignUpInput struct {
	Name                string
	Username            string
	Email               string
	Password            string
	Phone               string
	PublicKey           string
	EncryptedPrivateKey string
	PrivateKeySalt      string
}

// SignUp creates an unverified user and mails an account code. When the mail
// cannot be sent the user still exists and the error is an upstream error,
// so the client can ask for a resend.
func (a *App) SignUp(ctx context.Context, in SignUpInput, ip string) (domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if in.PublicKey == "" || in.EncryptedPrivateKey == "" || in.PrivateKeySalt == "" {
		return domain.User{}, ErrMissingKeys
	}
	if in.Username == "" || in.Email == "" || in.Password == "" || in.Name == "" {
		return domain.User{}, ErrMissingFields
	}
	if !usernamePattern.MatchString(in.Username) {
		return domain.User{}, ErrInvalidUsername
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, ErrWeakPassword.WithMessage(err.Error())
	}
	if _, exists, err := a.store.GetUserByEmail(ctx, in.Email); err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	} else if exists {
		return domain.User{}, store.ErrDuplicateEmail
	}
	if _, exists, err := a.store.GetUserByUsername(ctx, in.Username); err != nil {
		return domain.User{}, fmt.Errorf("check username: %w", err)
	} else if exists {
		return domain.User{}, store.ErrDuplicateUsername
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := a.now()
	user := domain.User{
		ID:                  util.NewID(),
		Username:            in.Username,
		Email:               in.Email,
		Name:                in.Name,
		Phone:               strings.TrimSpace(in.Phone),
		PasswordHash:        hash,
		Role:                domain.RoleUser,
		PublicKey:           in.PublicKey,
		EncryptedPrivateKey: in.EncryptedPrivateKey,
		PrivateKeySalt:      in.PrivateKeySalt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	a.record(ctx, &user.ID, domain.ActionUserRegistration, "New user registered", ip, nil)
	signups.Inc()
	if err := a.accountCodes.Issue(ctx, user.ID, user.Email); err != nil {
		return user, err
	}
	return user, nil
}

// VerifyAccount consumes the account code for email and marks the user verified.
func (a *App) VerifyAccount(ctx context.Context, email, code string) (domain.User, error) {
	user, err := a.userByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if user.IsVerified {
		return domain.User{}, ErrAlreadyVerified
	}
	if err := a.accountCodes.Verify(ctx, user.ID, code); err != nil {
		otpResults.WithLabelValues("account", "fail").Inc()
		return domain.User{}, err
	}
	otpResults.WithLabelValues("account", "success").Inc()
	user.IsVerified = true
	user.VerificationCode = ""
	return user, nil
}

// ResendAccountCode replaces the pending account code.
func (a *App) ResendAccountCode(ctx context.Context, email string) error {
	user, err := a.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}
	return a.accountCodes.Resend(ctx, user.ID, user.Email)
}

// LoginResult is returned on successful login. The encrypted key material
// lets the client unlock its private key locally.
type LoginResult struct {
	Token               string
	User                domain.User
	EncryptedPrivateKey string
	PrivateKeySalt      string
}

// Login validates credentials and issues an access token.
func (a *App) Login(ctx context.Context, email, password, ip string) (LoginResult, error) {
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.IsVerified {
		return LoginResult{}, ErrNotVerified
	}
	if user.IsSuspended {
		return LoginResult{}, ErrSuspended
	}
	token, err := a.sessions.Issue(user)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	a.record(ctx, &user.ID, domain.ActionLogin, "User logged in", ip, nil)
	return LoginResult{
		Token:               token,
		User:                user,
		EncryptedPrivateKey: user.EncryptedPrivateKey,
		PrivateKeySalt:      user.PrivateKeySalt,
	}, nil
}

// Logout revokes token.
func (a *App) Logout(ctx context.Context, token string) error {
	if err := a.sessions.Revoke(ctx, token); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return ErrUnauthenticated
		}
		return err
	}
	return nil
}

// Authenticate resolves a bearer token to the caller identity. Suspended
// users are rejected even while their token is still valid.
func (a *App) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	id, err := a.sessions.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRevoked) {
			return domain.Identity{}, ErrUnauthenticated
		}
		return domain.Identity{}, err
	}
	user, ok, err := a.store.GetUserByID(ctx, id.UserID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.Identity{}, ErrUnauthenticated
	}
	if user.IsSuspended {
		return domain.Identity{}, ErrSuspended
	}
	return domain.Identity{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// Profile is the caller's own view of their account.
type Profile struct {
	User            domain.User
	ProfileImageURL string
	FollowRequests  []domain.User
}

// Profile returns the caller's account with pending follow requests.
func (a *App) Profile(ctx context.Context, caller domain.Identity) (Profile, error) {
	user, err := a.userByID(ctx, caller.UserID)
	if err != nil {
		return Profile{}, err
	}
	requests, err := a.store.ListFollowRequests(ctx, user.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("list follow requests: %w", err)
	}
	return Profile{
		User:            user,
		ProfileImageURL: a.objectURL(ctx, user.ProfileImageKey),
		FollowRequests:  requests,
	}, nil
}

// VerifyCaptcha checks a CAPTCHA token before anonymous actions.
func (a *App) VerifyCaptcha(ctx context.Context, token, ip string) error {
	if a.captcha == nil {
		return ErrCaptchaDisabled
	}
	return a.captcha.Verify(ctx, token, ip)
}

func (a *App) userByEmail(ctx context.Context, email string) (domain.User, error) {
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (a *App) userByID(ctx context.Context, id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (a *App) userByUsername(ctx context.Context, username string) (domain.User, error) {
	user, ok, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, store.ErrUserNotFound
	}
	return user, nil
}
