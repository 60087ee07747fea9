// Package ledger talks to the external append-only message ledger.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"ransomhub/pkg/apperr"
)

var ErrUnavailable = apperr.Upstream("ledger_unavailable", "failed to fetch from ledger", nil)

// Entry is the ledger's wire format. Timestamp is unix seconds and may be
// absent on entries written by older clients.
type Entry struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Client posts and lists ledger entries with retries on transport errors
// and 5xx responses.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

type Config struct {
	BaseURL      string
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("ledger base url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	if cfg.MaxRetries > 0 {
		rc.RetryMax = cfg.MaxRetries
	}
	rc.RetryWaitMin = 200 * time.Millisecond
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	rc.RetryWaitMax = 2 * time.Second
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.HTTPClient.Timeout = 10 * time.Second
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	rc.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger.With("subsystem", "ledger")})
	// the last response is kept so callers see the real status code
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{baseURL: base, http: rc}, nil
}

// Post appends e to the ledger. Anything but 200 is an error.
func (c *Client) Post(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post ledger entry: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post ledger entry: status %d", resp.StatusCode)
	}
	return nil
}

// List returns every ledger entry.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/messages", nil)
	if err != nil {
		return nil, apperr.Internal("build ledger request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ErrUnavailable.WithMessage(fmt.Sprintf("failed to fetch from ledger: %d", resp.StatusCode))
	}
	var entries []Entry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&entries); err != nil {
		return nil, ErrUnavailable.Wrap(fmt.Errorf("decode ledger entries: %w", err))
	}
	return entries, nil
}

// leveledSlog demotes retry errors to warnings.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Info(msg string, keysAndValues ...any)  { l.inner.Info(msg, keysAndValues...) }
func (l leveledSlog) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }
