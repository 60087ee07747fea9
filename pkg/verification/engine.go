// Package verification issues and checks one-time numeric codes. The same
// engine serves account signup and payment confirmation; only the CodeStore
// differs.
package verification

import (
	"context"
	"fmt"
	"strings"

	"ransomhub/internal/util"
	"ransomhub/pkg/apperr"
)

const CodeLength = 6

var (
	ErrMalformedCode = apperr.Validation("malformed_code", "verification code must be 6 digits")
	ErrDelivery      = apperr.Upstream("mail_failed", "failed to send verification email", nil)
)

// CodeStore keeps at most one pending code per subject.
type CodeStore interface {
	// SetCode stores code, replacing any pending one.
	SetCode(ctx context.Context, subjectID, code string) error
	// ConsumeCode clears a matching code and applies the subject's side effect.
	ConsumeCode(ctx context.Context, subjectID, code string) error
}

// Mailer delivers a plain text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config configures an Engine.
type Config struct {
	Codes  CodeStore
	Mailer Mailer
	// Subject is the email subject line.
	Subject string
	// Body is a format string with one %s verb for the code.
	Body string
}

// Engine issues and verifies codes.
type Engine struct {
	codes   CodeStore
	mailer  Mailer
	subject string
	body    string
	newCode func() (string, error)
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Codes == nil {
		return nil, fmt.Errorf("verification: code store is required")
	}
	if cfg.Mailer == nil {
		return nil, fmt.Errorf("verification: mailer is required")
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = "Your verification code"
	}
	body := cfg.Body
	if !strings.Contains(body, "%s") {
		body = "Your verification code is %s"
	}
	return &Engine{
		codes:   cfg.Codes,
		mailer:  cfg.Mailer,
		subject: subject,
		body:    body,
		newCode: func() (string, error) { return util.NewDigits(CodeLength) },
	}, nil
}

// Issue stores a fresh code for subjectID and mails it to recipient.
// The code stays stored when delivery fails; the returned error is ErrDelivery.
func (e *Engine) Issue(ctx context.Context, subjectID, recipient string) error {
	code, err := e.newCode()
	if err != nil {
		return apperr.Internal("generate code", err)
	}
	if err := e.codes.SetCode(ctx, subjectID, code); err != nil {
		return err
	}
	if err := e.mailer.Send(ctx, recipient, e.subject, fmt.Sprintf(e.body, code)); err != nil {
		return ErrDelivery.Wrap(err)
	}
	return nil
}

// Resend replaces the pending code and mails the new one.
func (e *Engine) Resend(ctx context.Context, subjectID, recipient string) error {
	return e.Issue(ctx, subjectID, recipient)
}

// Verify consumes submitted if it matches the pending code.
func (e *Engine) Verify(ctx context.Context, subjectID, submitted string) error {
	submitted = strings.TrimSpace(submitted)
	if !wellFormed(submitted) {
		return ErrMalformedCode
	}
	return e.codes.ConsumeCode(ctx, subjectID, submitted)
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
