package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"ransomhub/pkg/domain"
)

// CreateGroup inserts the group only if its id is free, then its members,
// in one transaction.
func (s *GormStore) CreateGroup(ctx context.Context, g domain.Group, memberIDs []string) error {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&GroupModel{
			ID:        g.ID,
			Name:      g.Name,
			CreatedBy: g.CreatedBy,
			CreatedAt: g.CreatedAt.UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicateGroup
		}
		if len(memberIDs) == 0 {
			return nil
		}
		members := make([]GroupMemberModel, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, GroupMemberModel{GroupID: g.ID, UserID: id, CreatedAt: now})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
}

// AddGroupMembers locks the group row, validates capacity and existing
// membership for the whole batch, then inserts every member.
func (s *GormStore) AddGroupMembers(ctx context.Context, groupID string, users []domain.User, capacity int) error {
	if len(users) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group GroupModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&group, "id = ?", groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		var existing []string
		if err := tx.Model(&GroupMemberModel{}).Where("group_id = ?", groupID).Pluck("user_id", &existing).Error; err != nil {
			return err
		}
		if capacity > 0 && len(existing)+len(users) > capacity {
			return ErrGroupFull.WithMessage(fmt.Sprintf("group cannot exceed %d members", capacity))
		}
		current := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			current[id] = struct{}{}
		}
		now := time.Now().UTC()
		rows := make([]GroupMemberModel, 0, len(users))
		for _, u := range users {
			if _, ok := current[u.ID]; ok {
				return ErrAlreadyMember.WithMessage(fmt.Sprintf("%s is already a member of the group", u.Username))
			}
			current[u.ID] = struct{}{}
			rows = append(rows, GroupMemberModel{GroupID: groupID, UserID: u.ID, CreatedAt: now})
		}
		return tx.Create(&rows).Error
	})
}

// GetGroup returns a group with its member usernames.
func (s *GormStore) GetGroup(ctx context.Context, id string) (domain.Group, bool, error) {
	var model GroupModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Group{}, false, nil
		}
		return domain.Group{}, false, err
	}
	groups, err := s.withMembers(ctx, []GroupModel{model})
	if err != nil {
		return domain.Group{}, false, err
	}
	return groups[0], true, nil
}

// ListGroups returns every group ordered by creation.
func (s *GormStore) ListGroups(ctx context.Context) ([]domain.Group, error) {
	var models []GroupModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withMembers(ctx, models)
}

// ListGroupsForUser returns the groups userID belongs to.
func (s *GormStore) ListGroupsForUser(ctx context.Context, userID string) ([]domain.Group, error) {
	sub := s.db.Model(&GroupMemberModel{}).Select("group_id").Where("user_id = ?", userID)
	var models []GroupModel
	if err := s.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withMembers(ctx, models)
}

// IsGroupMember reports whether userID belongs to groupID.
func (s *GormStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&GroupMemberModel{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListGroupMembers returns the member users of groupID.
func (s *GormStore) ListGroupMembers(ctx context.Context, groupID string) ([]domain.User, error) {
	sub := s.db.Model(&GroupMemberModel{}).Select("user_id").Where("group_id = ?", groupID)
	var models []UserModel
	if err := s.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("username ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

type memberRow struct {
	GroupID  string
	Username string
}

func (s *GormStore) withMembers(ctx context.Context, models []GroupModel) ([]domain.Group, error) {
	out := make([]domain.Group, 0, len(models))
	if len(models) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var rows []memberRow
	if err := s.db.WithContext(ctx).
		Table("group_member_models AS gm").
		Select("gm.group_id AS group_id, u.username AS username").
		Joins("JOIN user_models AS u ON u.id = gm.user_id").
		Where("gm.group_id IN ?", ids).
		Order("gm.created_at ASC").
		Order("u.username ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	members := make(map[string][]string, len(models))
	for _, row := range rows {
		members[row.GroupID] = append(members[row.GroupID], row.Username)
	}
	for _, m := range models {
		names := members[m.ID]
		if names == nil {
			names = []string{}
		}
		out = append(out, domain.Group{
			ID:        m.ID,
			Name:      m.Name,
			CreatedBy: m.CreatedBy,
			Members:   names,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}
	return out, nil
}
