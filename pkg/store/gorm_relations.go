package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"ransomhub/pkg/domain"
)

// Relationship reports the viewer's edges towards other.
func (s *GormStore) Relationship(ctx context.Context, viewerID, otherID string) (domain.Relationship, error) {
	var kinds []string
	if err := s.db.WithContext(ctx).Model(&RelationModel{}).
		Where("from_id = ? AND to_id = ?", viewerID, otherID).
		Pluck("kind", &kinds).Error; err != nil {
		return domain.Relationship{}, err
	}
	rel := domain.Relationship{}
	for _, kind := range kinds {
		switch domain.EdgeKind(kind) {
		case domain.EdgeFollows:
			rel.IsFollowing = true
		case domain.EdgeFollowRequest:
			rel.FollowRequestSent = true
		case domain.EdgeBlocked:
			rel.IsBlocked = true
		}
	}
	return rel, nil
}

// HasEdge reports whether the directed edge exists.
func (s *GormStore) HasEdge(ctx context.Context, fromID, toID string, kind domain.EdgeKind) (bool, error) {
	return hasEdge(s.db.WithContext(ctx), fromID, toID, kind)
}

func hasEdge(tx *gorm.DB, fromID, toID string, kind domain.EdgeKind) (bool, error) {
	var count int64
	if err := tx.Model(&RelationModel{}).
		Where("from_id = ? AND to_id = ? AND kind = ?", fromID, toID, string(kind)).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// insertEdge is idempotent and reports whether a new row was written.
func insertEdge(tx *gorm.DB, fromID, toID string, kind domain.EdgeKind) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&RelationModel{
		FromID:    fromID,
		ToID:      toID,
		Kind:      string(kind),
		CreatedAt: time.Now().UTC(),
	})
	return res.RowsAffected > 0, res.Error
}

// deleteEdge is idempotent and reports whether a row was removed.
func deleteEdge(tx *gorm.DB, fromID, toID string, kind domain.EdgeKind) (bool, error) {
	res := tx.Where("from_id = ? AND to_id = ? AND kind = ?", fromID, toID, string(kind)).
		Delete(&RelationModel{})
	return res.RowsAffected > 0, res.Error
}

// severEdges removes follows and follow requests between a and b in both directions.
func severEdges(tx *gorm.DB, a, b string) error {
	return tx.Where("((from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)) AND kind IN ?",
		a, b, b, a, []string{string(domain.EdgeFollows), string(domain.EdgeFollowRequest)}).
		Delete(&RelationModel{}).Error
}

// CreateFollowRequest records a pending request from requester to target.
func (s *GormStore) CreateFollowRequest(ctx context.Context, requesterID, targetID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		following, err := hasEdge(tx, requesterID, targetID, domain.EdgeFollows)
		if err != nil {
			return err
		}
		if following {
			return ErrAlreadyFollowing
		}
		blocked, err := hasEdge(tx, targetID, requesterID, domain.EdgeBlocked)
		if err != nil {
			return err
		}
		if blocked {
			return ErrBlockedByTarget
		}
		_, err = insertEdge(tx, requesterID, targetID, domain.EdgeFollowRequest)
		return err
	})
}

// AcceptFollowRequest turns a pending request into a follows edge.
func (s *GormStore) AcceptFollowRequest(ctx context.Context, targetID, requesterID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed, err := deleteEdge(tx, requesterID, targetID, domain.EdgeFollowRequest)
		if err != nil {
			return err
		}
		if !removed {
			return ErrNoFollowRequest
		}
		_, err = insertEdge(tx, requesterID, targetID, domain.EdgeFollows)
		return err
	})
}

// RejectFollowRequest drops a pending request.
func (s *GormStore) RejectFollowRequest(ctx context.Context, targetID, requesterID string) error {
	removed, err := deleteEdge(s.db.WithContext(ctx), requesterID, targetID, domain.EdgeFollowRequest)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNoFollowRequest
	}
	return nil
}

// Block applies a block under a lock on the actor row. The guard sees the
// locked actor, so concurrent blocks by the same actor cannot both pass.
func (s *GormStore) Block(ctx context.Context, actorID, targetID string, now time.Time, guard BlockGuard) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := lockUser(tx, actorID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(actor); err != nil {
				return err
			}
		}
		created, err = insertEdge(tx, actorID, targetID, domain.EdgeBlocked)
		if err != nil {
			return err
		}
		if err := severEdges(tx, actorID, targetID); err != nil {
			return err
		}
		if !created {
			return nil
		}
		return tx.Model(&UserModel{}).Where("id = ?", actorID).Updates(map[string]any{
			"block_action_count": gorm.Expr("block_action_count + 1"),
			"last_block_at":      now.UTC(),
			"updated_at":         time.Now().UTC(),
		}).Error
	})
	return created, err
}

// Unblock removes a block under a lock on the actor row. The action counter
// is decremented and floored at zero.
func (s *GormStore) Unblock(ctx context.Context, actorID, targetID string, now time.Time, guard BlockGuard) (bool, error) {
	removed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := lockUser(tx, actorID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(actor); err != nil {
				return err
			}
		}
		removed, err = deleteEdge(tx, actorID, targetID, domain.EdgeBlocked)
		if err != nil || !removed {
			return err
		}
		count := actor.BlockActionCount - 1
		if count < 0 {
			count = 0
		}
		return tx.Model(&UserModel{}).Where("id = ?", actorID).Updates(map[string]any{
			"block_action_count": count,
			"last_block_at":      now.UTC(),
			"updated_at":         time.Now().UTC(),
		}).Error
	})
	return removed, err
}

// Report blocks target and severs edges without touching rate-limit state.
func (s *GormStore) Report(ctx context.Context, reporterID, targetID string) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = insertEdge(tx, reporterID, targetID, domain.EdgeBlocked)
		if err != nil {
			return err
		}
		return severEdges(tx, reporterID, targetID)
	})
	return created, err
}

func lockUser(tx *gorm.DB, id string) (domain.User, error) {
	var model UserModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// ListFollowers returns users following userID.
func (s *GormStore) ListFollowers(ctx context.Context, userID string) ([]domain.User, error) {
	return s.listRelated(ctx, "to_id", "from_id", userID, domain.EdgeFollows)
}

// ListFollowing returns users userID follows.
func (s *GormStore) ListFollowing(ctx context.Context, userID string) ([]domain.User, error) {
	return s.listRelated(ctx, "from_id", "to_id", userID, domain.EdgeFollows)
}

// ListFollowRequests returns users with a pending request to userID.
func (s *GormStore) ListFollowRequests(ctx context.Context, userID string) ([]domain.User, error) {
	return s.listRelated(ctx, "to_id", "from_id", userID, domain.EdgeFollowRequest)
}

func (s *GormStore) listRelated(ctx context.Context, anchorCol, otherCol, userID string, kind domain.EdgeKind) ([]domain.User, error) {
	sub := s.db.Model(&RelationModel{}).
		Select(otherCol).
		Where(anchorCol+" = ? AND kind = ?", userID, string(kind))
	var models []UserModel
	if err := s.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("username ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}
