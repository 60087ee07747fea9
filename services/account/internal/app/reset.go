package app

import (
	"context"
	"fmt"
	"strings"

	"ransomhub/pkg/auth"
	"ransomhub/pkg/domain"
	"ransomhub/pkg/store"
)

// SendPasswordResetCode mails a reset code to the account registered under email.
func (a *App) SendPasswordResetCode(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrResetFields.WithMessage("email is required")
	}
	user, err := a.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	return a.resetCodes.Issue(ctx, user.ID, user.Email)
}

// ResetPasswordInput carries a reset confirmation. The client generates a
// fresh key pair because the old private key cannot be unlocked anymore.
type ResetPasswordInput struct {
	Email               string
	Code                string
	NewPassword         string
	PublicKey           string
	EncryptedPrivateKey string
	PrivateKeySalt      string
}

// ResetPassword consumes the reset code and installs the new password and
// keys. Direct history encrypted for the old keys is deleted.
func (a *App) ResetPassword(ctx context.Context, in ResetPasswordInput, ip string) error {
	if strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.Code) == "" || in.NewPassword == "" {
		return ErrResetFields
	}
	if in.PublicKey == "" || in.EncryptedPrivateKey == "" || in.PrivateKeySalt == "" {
		return ErrMissingKeys
	}
	if err := auth.ValidatePassword(in.NewPassword); err != nil {
		return ErrWeakPassword.WithMessage(err.Error())
	}
	user, err := a.userByEmail(ctx, in.Email)
	if err != nil {
		return err
	}
	if err := a.resetCodes.Verify(ctx, user.ID, in.Code); err != nil {
		otpResults.WithLabelValues("reset", "fail").Inc()
		return err
	}
	otpResults.WithLabelValues("reset", "success").Inc()
	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.ResetUserCredentials(ctx, user.ID, store.Credentials{
		PasswordHash:        hash,
		PublicKey:           in.PublicKey,
		EncryptedPrivateKey: in.EncryptedPrivateKey,
		PrivateKeySalt:      in.PrivateKeySalt,
	}); err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}
	a.record(ctx, &user.ID, domain.ActionPasswordChange, "Password Change", ip, nil)
	return nil
}
