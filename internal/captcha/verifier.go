package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ransomhub/pkg/apperr"
)

const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

var (
	ErrMissingToken = apperr.Validation("captcha_required", "captcha response is required")
	ErrRejected     = apperr.Validation("captcha_failed", "captcha verification failed")
	ErrUnavailable  = apperr.Upstream("captcha_unavailable", "captcha verification unavailable", nil)
)

// Verifier checks reCAPTCHA-style tokens against a siteverify endpoint.
type Verifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewVerifier(secret, verifyURL string, client *http.Client) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("captcha secret is required")
	}
	verifyURL = strings.TrimSpace(verifyURL)
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Verifier{secret: secret, verifyURL: verifyURL, client: client}, nil
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify returns nil when the provider accepts token.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingToken
	}
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperr.Internal("build captcha request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := v.client.Do(req)
	if err != nil {
		return ErrUnavailable.Wrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrUnavailable.Wrap(fmt.Errorf("status %d", resp.StatusCode))
	}
	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return ErrUnavailable.Wrap(err)
	}
	if !out.Success {
		return ErrRejected
	}
	return nil
}
