// Package mail hands outgoing email to a delivery worker.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Job is the message body consumed by the delivery worker.
type Job struct {
	ID      string    `json:"id"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Created time.Time `json:"createdAt"`
}

// AMQPMailer publishes mail jobs to a durable RabbitMQ queue and waits for
// the broker confirm, so Send only succeeds once the job is persisted.
type AMQPMailer struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPMailer(url, queue string) (*AMQPMailer, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("mail broker url is required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = "ransomhub.mail"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &AMQPMailer{conn: conn, ch: ch, queue: queue}, nil
}

func (m *AMQPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := newPublishing(to, subject, body, time.Now().UTC())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	confirm, err := m.ch.PublishWithDeferredConfirmWithContext(ctx, "", m.queue, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm mail: %w", err)
	}
	if !acked {
		return errors.New("mail publish nacked by broker")
	}
	return nil
}

// Close closes the channel and connection.
func (m *AMQPMailer) Close() error {
	_ = m.ch.Close()
	return m.conn.Close()
}

func newPublishing(to, subject, body string, now time.Time) (amqp.Publishing, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return amqp.Publishing{}, errors.New("mail recipient is required")
	}
	job := Job{ID: uuid.NewString(), To: to, Subject: subject, Body: body, Created: now}
	payload, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode mail job: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    now,
		Body:         payload,
	}, nil
}

// LogMailer writes mail to the log instead of delivering it. Used when no
// broker is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail_not_delivered", "to", to, "subject", subject, "body", body)
	return nil
}
