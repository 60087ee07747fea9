package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"ransomhub/pkg/apperr"
	"ransomhub/pkg/auth"
	"ransomhub/pkg/domain"
	"ransomhub/pkg/store"
	"ransomhub/pkg/verification"
)

const testPassword = "Str0ng!Passw0rd"

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type captureMailer struct {
	mu   sync.Mutex
	last map[string]string
	fail error
}

func (m *captureMailer) Send(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.last == nil {
		m.last = map[string]string{}
	}
	m.last[to] = body
	return nil
}

func (m *captureMailer) code(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	code := codePattern.FindString(m.last[to])
	if code == "" {
		t.Fatalf("no code mailed to %s", to)
	}
	return code
}

func newTestApp(t *testing.T) (*App, *store.GormStore, *captureMailer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "account.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	mr := miniredis.RunT(t)
	sessions, err := auth.NewSessions(auth.SessionConfig{
		Secret:  strings.Repeat("k", 40),
		Revoker: auth.NewRedisTokenRevoker(mr.Addr(), "", ""),
	})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	mailer := &captureMailer{}
	a, err := New(Config{Store: st, Sessions: sessions, Mailer: mailer, Logger: logger})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, st, mailer
}

func signUp(t *testing.T, a *App, username string) SignUpInput {
	t.Helper()
	in := SignUpInput{
		Name:                strings.ToUpper(username[:1]) + username[1:],
		Username:            username,
		Email:               username + "@example.com",
		Password:            testPassword,
		PublicKey:           "pub-" + username,
		EncryptedPrivateKey: "enc-" + username,
		PrivateKeySalt:      "salt-" + username,
	}
	if _, err := a.SignUp(context.Background(), in, "127.0.0.1"); err != nil {
		t.Fatalf("signup %s: %v", username, err)
	}
	return in
}

// verifiedUser signs up and verifies username, returning its identity.
func verifiedUser(t *testing.T, a *App, m *captureMailer, username string) domain.Identity {
	t.Helper()
	ctx := context.Background()
	in := signUp(t, a, username)
	user, err := a.VerifyAccount(ctx, in.Email, m.code(t, in.Email))
	if err != nil {
		t.Fatalf("verify %s: %v", username, err)
	}
	return domain.Identity{UserID: user.ID, Username: user.Username, Role: user.Role}
}

func TestSignUpVerifyLogin(t *testing.T) {
	a, st, m := newTestApp(t)
	ctx := context.Background()
	in := signUp(t, a, "alice")

	if _, err := a.Login(ctx, in.Email, in.Password, ""); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected not verified, got %v", err)
	}
	code := m.code(t, in.Email)
	if _, err := a.VerifyAccount(ctx, in.Email, code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := a.VerifyAccount(ctx, in.Email, code); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected already verified, got %v", err)
	}

	res, err := a.Login(ctx, in.Email, in.Password, "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Token == "" || res.EncryptedPrivateKey != "enc-alice" || res.PrivateKeySalt != "salt-alice" {
		t.Fatalf("unexpected login result: %+v", res)
	}
	id, err := a.Authenticate(ctx, res.Token)
	if err != nil || id.Username != "alice" {
		t.Fatalf("authenticate: %+v %v", id, err)
	}
	if err := a.Logout(ctx, res.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := a.Authenticate(ctx, res.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}

	logs, err := st.ListActivity(ctx, domain.ActivityFilter{})
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	if len(logs) != 2 || logs[0].Action != domain.ActionLogin || logs[1].Action != domain.ActionUserRegistration {
		t.Fatalf("unexpected activity: %+v", logs)
	}
}

func TestSignUpRejectsDuplicatesAndWeakInput(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	in := signUp(t, a, "alice")

	dupEmail := in
	dupEmail.Username = "alice2"
	if _, err := a.SignUp(ctx, dupEmail, ""); apperr.Status(err) != 409 || !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	dupName := in
	dupName.Email = "other@example.com"
	if _, err := a.SignUp(ctx, dupName, ""); !errors.Is(err, store.ErrDuplicateUsername) {
		t.Fatalf("expected username conflict, got %v", err)
	}
	weak := in
	weak.Username, weak.Email, weak.Password = "bob", "bob@example.com", "short"
	if _, err := a.SignUp(ctx, weak, ""); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	noKeys := in
	noKeys.Username, noKeys.Email, noKeys.PublicKey = "carol", "carol@example.com", ""
	if _, err := a.SignUp(ctx, noKeys, ""); !errors.Is(err, ErrMissingKeys) {
		t.Fatalf("expected missing keys, got %v", err)
	}
}

func TestAccountCodeIsSingleUse(t *testing.T) {
	a, st, m := newTestApp(t)
	ctx := context.Background()
	in := signUp(t, a, "alice")
	code := m.code(t, in.Email)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := a.VerifyAccount(ctx, in.Email, wrong); !errors.Is(err, store.ErrInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := a.VerifyAccount(ctx, in.Email, code); err != nil {
		t.Fatalf("code should survive a mismatch: %v", err)
	}
	user, _, _ := st.GetUserByEmail(ctx, in.Email)
	if !user.IsVerified || user.VerificationCode != "" {
		t.Fatalf("expected verified user with cleared code: %+v", user)
	}
}

func TestSignUpMailFailureKeepsUser(t *testing.T) {
	a, st, m := newTestApp(t)
	m.fail = errors.New("broker down")
	ctx := context.Background()
	_, err := a.SignUp(ctx, SignUpInput{
		Name: "Alice", Username: "alice", Email: "alice@example.com", Password: testPassword,
		PublicKey: "p", EncryptedPrivateKey: "e", PrivateKeySalt: "s",
	}, "")
	if !errors.Is(err, verification.ErrDelivery) || apperr.Status(err) != 502 {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if _, ok, _ := st.GetUserByEmail(ctx, "alice@example.com"); !ok {
		t.Fatal("user should exist after mail failure")
	}
	m.fail = nil
	if err := a.ResendAccountCode(ctx, "alice@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if err := a.ResendAccountCode(ctx, "nobody@example.com"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoginRejectsBadCredentialsAndSuspended(t *testing.T) {
	a, st, m := newTestApp(t)
	ctx := context.Background()
	alice := verifiedUser(t, a, m, "alice")

	if _, err := a.Login(ctx, "alice@example.com", "Wr0ng!Password", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := a.Login(ctx, "ghost@example.com", testPassword, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
	if err := st.SetUserSuspended(ctx, alice.UserID, true); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := a.Login(ctx, "alice@example.com", testPassword, ""); !errors.Is(err, ErrSuspended) {
		t.Fatalf("expected suspended, got %v", err)
	}
}

func TestProfileListsFollowRequests(t *testing.T) {
	a, _, m := newTestApp(t)
	ctx := context.Background()
	alice := verifiedUser(t, a, m, "alice")
	bob := verifiedUser(t, a, m, "bob")

	if err := a.SendFollowRequest(ctx, bob, "alice"); err != nil {
		t.Fatalf("follow request: %v", err)
	}
	profile, err := a.Profile(ctx, alice)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.User.Username != "alice" || len(profile.FollowRequests) != 1 || profile.FollowRequests[0].Username != "bob" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.ProfileImageURL != "" {
		t.Fatalf("expected no image url, got %q", profile.ProfileImageURL)
	}
}

func TestVerifyCaptchaWithoutVerifier(t *testing.T) {
	a, _, _ := newTestApp(t)
	if err := a.VerifyCaptcha(context.Background(), "token", ""); !errors.Is(err, ErrCaptchaDisabled) {
		t.Fatalf("expected captcha disabled, got %v", err)
	}
}
