package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestNewPublishingEncodesJob(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := newPublishing(" a@example.com ", "Verify", "Your code is 123456", now)
	if err != nil {
		t.Fatalf("new publishing: %v", err)
	}
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing headers: %+v", msg)
	}
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if job.To != "a@example.com" || job.Subject != "Verify" || job.Body != "Your code is 123456" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.ID == "" || job.ID != msg.MessageId {
		t.Fatalf("message id %q does not match job id %q", msg.MessageId, job.ID)
	}
	if !job.Created.Equal(now) {
		t.Fatalf("unexpected created time %v", job.Created)
	}
}

func TestNewPublishingRequiresRecipient(t *testing.T) {
	if _, err := newPublishing("  ", "s", "b", time.Now()); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}

func TestNewAMQPMailerRequiresURL(t *testing.T) {
	if _, err := NewAMQPMailer("", ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := LogMailer{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := m.Send(context.Background(), "a@example.com", "Verify", "code"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "a@example.com") {
		t.Fatalf("expected recipient in log, got %s", buf.String())
	}
}
