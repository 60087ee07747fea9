package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"ransomhub/pkg/domain"
	"ransomhub/pkg/queue"
)

// notification is the real-time payload pushed to each recipient channel.
type notification struct {
	Sender    string             `json:"sender"`
	Type      domain.MessageType `json:"type"`
	Message   string             `json:"message"`
	IV        string             `json:"iv,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// notifyAll publishes payload on every recipient channel. Failures are
// logged and counted; delivery is at most once.
func (a *App) notifyAll(ctx context.Context, recipients []string, event string, payload notification) {
	if a.notifier == nil || len(recipients) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(a.fanOut)
	for _, recipient := range recipients {
		recipient := recipient
		g.Go(func() error {
			if err := a.notifier.Publish(ctx, recipient, event, payload); err != nil {
				notifyFailures.Inc()
				a.logger.Warn("notify_failed", "channel", recipient, "event", event, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// mirrorText queues a text message for the ledger. The request never waits
// on the ledger itself.
func (a *App) mirrorText(ctx context.Context, sender, recipient, text string, at time.Time) {
	if a.mirror == nil {
		return
	}
	job, err := a.mirror.Enqueue(ctx, queue.MirrorJob{
		Sender:    sender,
		Recipient: recipient,
		Text:      text,
		Timestamp: unixSeconds(at),
	})
	if err != nil {
		mirrorEnqueueFailures.Inc()
		a.logger.Warn("mirror_enqueue_failed", "sender", sender, "recipient", recipient, "err", err)
		return
	}
	a.logger.Debug("mirror_enqueued", "job_id", job.ID)
}
