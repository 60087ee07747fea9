package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"ransomhub/internal/util"
	"ransomhub/pkg/domain"
)

const defaultActivityLimit = 200

// AppendActivity records an audit entry.
func (s *GormStore) AppendActivity(ctx context.Context, entry domain.ActivityLog) error {
	if entry.ID == "" {
		entry.ID = util.NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var meta datatypes.JSON
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode activity metadata: %w", err)
		}
		meta = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).Create(&ActivityLogModel{
		ID:          entry.ID,
		UserID:      entry.UserID,
		Action:      string(entry.Action),
		Description: entry.Description,
		IP:          entry.IP,
		Metadata:    meta,
		CreatedAt:   entry.CreatedAt.UTC(),
	}).Error
}

// ListActivity returns audit entries newest first.
func (s *GormStore) ListActivity(ctx context.Context, filter domain.ActivityFilter) ([]domain.ActivityLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	tx := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if filter.Action != "" {
		tx = tx.Where("action = ?", string(filter.Action))
	}
	if !filter.Since.IsZero() {
		tx = tx.Where("created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		tx = tx.Where("created_at <= ?", filter.Until.UTC())
	}
	var models []ActivityLogModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ActivityLog, 0, len(models))
	for _, m := range models {
		entry := domain.ActivityLog{
			ID:          m.ID,
			UserID:      m.UserID,
			Action:      domain.ActionType(m.Action),
			Description: m.Description,
			IP:          m.IP,
			CreatedAt:   m.CreatedAt.UTC(),
		}
		if len(m.Metadata) > 0 {
			if err := json.Unmarshal(m.Metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity metadata: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
