package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ransomhub/pkg/apperr"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, MaxRetries: 2, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestPostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var e Entry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil || e.Sender != "alice" || e.Text != "hi" {
			t.Errorf("unexpected body %+v err=%v", e, err)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ts := int64(1700000000)
	if err := newTestClient(t, srv.URL).Post(context.Background(), Entry{Sender: "alice", Recipient: "bob", Text: "hi", Timestamp: &ts}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestPostRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	if err := newTestClient(t, srv.URL).Post(context.Background(), Entry{Sender: "a", Recipient: "b"}); err == nil {
		t.Fatalf("expected error for status 201")
	}
}

func TestListDecodesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"sender":"alice","recipient":"bob","text":"hi","timestamp":1700000000},{"sender":"carol","recipient":"g1","text":"yo"}]`))
	}))
	defer srv.Close()

	entries, err := newTestClient(t, srv.URL).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Timestamp == nil || *entries[0].Timestamp != 1700000000 {
		t.Fatalf("unexpected timestamp %+v", entries[0].Timestamp)
	}
	if entries[1].Timestamp != nil {
		t.Fatalf("expected missing timestamp")
	}
}

func TestListNon200IsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).List(context.Background())
	if !errors.Is(err, ErrUnavailable) || apperr.Status(err) != http.StatusBadGateway {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
