package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"ransomhub/internal/util"
	"ransomhub/pkg/domain"
)

const (
	defaultIssuer   = "ransomhub-account"
	defaultAudience = "ransomhub-api"
	defaultTTL      = 24 * time.Hour
	defaultLeeway   = 30 * time.Second
	minSecretLength = 32
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims are the access-token claims shared by every service.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// SessionConfig configures access-token issuing and verification.
type SessionConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
	Revoker  TokenRevoker
}

// Sessions issues and validates HS256 access tokens.
type Sessions struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	revoker  TokenRevoker
	now      func() time.Time
}

// NewSessions validates cfg and applies defaults.
func NewSessions(cfg SessionConfig) (*Sessions, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if len(secret) < minSecretLength {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	s := &Sessions{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		ttl:      cfg.TTL,
		leeway:   cfg.Leeway,
		revoker:  cfg.Revoker,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.issuer == "" {
		s.issuer = defaultIssuer
	}
	if s.audience == "" {
		s.audience = defaultAudience
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.leeway <= 0 {
		s.leeway = defaultLeeway
	}
	return s, nil
}

// Issue signs an access token for u.
func (s *Sessions) Issue(u domain.User) (string, error) {
	now := s.now()
	claims := Claims{
		Username: u.Username,
		Role:     string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        util.NewID(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates token and returns the caller identity.
func (s *Sessions) Verify(ctx context.Context, token string) (domain.Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return domain.Identity{}, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return domain.Identity{}, err
		}
		if revoked {
			return domain.Identity{}, ErrTokenRevoked
		}
	}
	return domain.Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     domain.UserRole(claims.Role),
	}, nil
}

// Revoke blocks token until it expires.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	return s.revoker.Revoke(ctx, claims.ID, ttl)
}

func (s *Sessions) parse(token string) (Claims, error) {
	claims := Claims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil || !parsed.Valid {
		return claims, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return claims, ErrInvalidToken
	}
	return claims, nil
}
