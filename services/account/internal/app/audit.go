package app

import (
	"context"

	"ransomhub/internal/util"
	"ransomhub/pkg/domain"
)

// record appends an activity log entry. Audit writes never fail the
// operation that triggered them.
func (a *App) record(ctx context.Context, userID *string, action domain.ActionType, description, ip string, metadata map[string]any) {
	entry := domain.ActivityLog{
		ID:          util.NewID(),
		UserID:      userID,
		Action:      action,
		Description: description,
		IP:          ip,
		Metadata:    metadata,
		CreatedAt:   a.now(),
	}
	if err := a.store.AppendActivity(ctx, entry); err != nil {
		auditFailures.Inc()
		util.LoggerFromContext(ctx).Error("activity_log_failed", "action", string(action), "err", err)
	}
}
