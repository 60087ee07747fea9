package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ransomhub/pkg/auth"
	"ransomhub/pkg/domain"
	"ransomhub/pkg/ledger"
	"ransomhub/pkg/notify"
	"ransomhub/pkg/queue"
	"ransomhub/pkg/store"
)

const (
	textRetention  = 20
	fileRetention  = 5
	maxTextRunes   = 256
	maxFileBytes   = 1_000_000
	groupCapacity  = 10
	maxGroupCreate = 20
	defaultFanOut  = 8
	fileSentMarker = "FILE_SENT_TO_CHAT"
)

// MirrorQueue hands text messages to the background ledger mirror.
type MirrorQueue interface {
	Enqueue(ctx context.Context, job queue.MirrorJob) (queue.MirrorJob, error)
}

// Ledger is the external append-only message ledger.
type Ledger interface {
	Post(ctx context.Context, e ledger.Entry) error
	List(ctx context.Context) ([]ledger.Entry, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string

	Store    store.Store
	Sessions *auth.Sessions
	Notifier notify.Publisher
	Mirror   MirrorQueue
	Ledger   Ledger
	// FanOut bounds concurrent notification publishes per group send.
	FanOut int
	Logger *slog.Logger
}

// App is the chat service core: direct and group conversations, groups and
// the ledger view.
type App struct {
	store    store.Store
	sessions *auth.Sessions
	notifier notify.Publisher
	mirror   MirrorQueue
	ledger   Ledger
	fanOut   int
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs the application with database-backed storage. Notifier,
// mirror queue and ledger are optional; without them the matching side
// effects are skipped.
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
			Revoker:  auth.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("init sessions: %w", err)
		}
	}

	fanOut := cfg.FanOut
	if fanOut <= 0 {
		fanOut = defaultFanOut
	}

	return &App{
		store:    dataStore,
		sessions: sessions,
		notifier: cfg.Notifier,
		mirror:   cfg.Mirror,
		ledger:   cfg.Ledger,
		fanOut:   fanOut,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Authenticate resolves a bearer token issued by the account service.
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
	return domain.Identity{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// PublicKey returns the stored public key of username.
func (a *App) PublicKey(ctx context.Context, username string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", ErrUsernameRequired
	}
	user, err := a.userByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return user.PublicKey, nil
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

func (a *App) groupByID(ctx context.Context, id string) (domain.Group, error) {
	group, ok, err := a.store.GetGroup(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Group{}, fmt.Errorf("fetch group: %w", err)
	}
	if !ok {
		return domain.Group{}, store.ErrGroupNotFound
	}
	return group, nil
}
