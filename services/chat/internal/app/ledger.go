package app

import (
	"context"
	"time"

	"ransomhub/pkg/domain"
	"ransomhub/pkg/ledger"
	"ransomhub/pkg/queue"
)

// LedgerMessages reads every mirrored message from the ledger with unix
// timestamps converted to UTC times. Entries without a timestamp keep a nil one.
func (a *App) LedgerMessages(ctx context.Context) ([]domain.LedgerMessage, error) {
	if a.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	entries, err := a.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LedgerMessage, 0, len(entries))
	for _, e := range entries {
		msg := domain.LedgerMessage{
			Sender:    e.Sender,
			Recipient: e.Recipient,
			Message:   e.Text,
		}
		if e.Timestamp != nil {
			ts := time.Unix(*e.Timestamp, 0).UTC()
			msg.Timestamp = &ts
		}
		out = append(out, msg)
	}
	return out, nil
}

// MirrorHandler delivers queued text messages to the ledger.
func (a *App) MirrorHandler() queue.MirrorHandler {
	return func(ctx context.Context, job queue.MirrorJob) error {
		if a.ledger == nil {
			return ErrLedgerDisabled
		}
		ts := job.Timestamp
		err := a.ledger.Post(ctx, ledger.Entry{
			Sender:    job.Sender,
			Recipient: job.Recipient,
			Text:      job.Text,
			Timestamp: &ts,
		})
		if err != nil {
			mirrorDeliveries.WithLabelValues("fail").Inc()
			return err
		}
		mirrorDeliveries.WithLabelValues("success").Inc()
		return nil
	}
}
