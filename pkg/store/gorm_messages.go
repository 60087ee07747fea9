package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"ransomhub/pkg/domain"
)

const (
	conversationDirect = "direct"
	conversationGroup  = "group"
)

// PairKey is the conversation key of an unordered user pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// lockConversation upserts the conversation row and locks it for the rest of
// the transaction, serializing inserts and trims on the same key.
func lockConversation(tx *gorm.DB, key, kind string, at time.Time) error {
	now := time.Now().UTC()
	conv := ConversationModel{ID: key, Kind: kind, CreatedAt: now, UpdatedAt: now}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&conv).Error; err != nil {
		return err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, "id = ?", key).Error; err != nil {
		return err
	}
	at = at.UTC()
	return tx.Model(&ConversationModel{}).Where("id = ?", key).Updates(map[string]any{
		"last_message_at": at,
		"updated_at":      now,
	}).Error
}

// trimConversation deletes everything older than the newest keep rows of model
// whose keyCol equals key.
func trimConversation(tx *gorm.DB, model any, keyCol, key string, keep int) error {
	var keepIDs []uint64
	if err := tx.Model(model).
		Where(keyCol+" = ?", key).
		Order("created_at DESC").
		Order("id DESC").
		Limit(keep).
		Pluck("id", &keepIDs).Error; err != nil {
		return err
	}
	if len(keepIDs) == 0 {
		return nil
	}
	return tx.Where(keyCol+" = ? AND id NOT IN ?", key, keepIDs).Delete(model).Error
}

// AppendDirectMessage persists msg and trims the pair's text history to keep.
func (s *GormStore) AppendDirectMessage(ctx context.Context, msg domain.Message, keep int) (domain.Message, error) {
	key := PairKey(msg.SenderID, msg.RecipientID)
	model := DirectMessageModel{
		ConversationID: key,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Sender:         msg.Sender,
		Recipient:      msg.Recipient,
		Ciphertext:     msg.Ciphertext,
		IV:             msg.IV,
		CreatedAt:      msg.CreatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, key, conversationDirect, model.CreatedAt); err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return trimConversation(tx, &DirectMessageModel{}, "conversation_id", key, keep)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return directMessageFromModel(model), nil
}

// AppendDirectFile persists file and trims the pair's file history to keep.
func (s *GormStore) AppendDirectFile(ctx context.Context, file domain.FileMessage, keep int) (domain.FileMessage, error) {
	key := PairKey(file.SenderID, file.RecipientID)
	model := DirectFileModel{
		ConversationID: key,
		SenderID:       file.SenderID,
		RecipientID:    file.RecipientID,
		Sender:         file.Sender,
		Recipient:      file.Recipient,
		File:           file.File,
		Filename:       file.Filename,
		FileType:       file.FileType,
		IV:             file.IV,
		CreatedAt:      file.CreatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, key, conversationDirect, model.CreatedAt); err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return trimConversation(tx, &DirectFileModel{}, "conversation_id", key, keep)
	})
	if err != nil {
		return domain.FileMessage{}, err
	}
	return directFileFromModel(model), nil
}

// ListDirectMessages returns the newest text messages between two users, newest first.
func (s *GormStore) ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]domain.Message, error) {
	var models []DirectMessageModel
	if err := newestFirst(s.db.WithContext(ctx), limit).
		Where("conversation_id = ?", PairKey(userA, userB)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(models))
	for _, m := range models {
		out = append(out, directMessageFromModel(m))
	}
	return out, nil
}

// ListDirectFiles returns the newest files between two users, newest first.
func (s *GormStore) ListDirectFiles(ctx context.Context, userA, userB string, limit int) ([]domain.FileMessage, error) {
	var models []DirectFileModel
	if err := newestFirst(s.db.WithContext(ctx), limit).
		Where("conversation_id = ?", PairKey(userA, userB)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.FileMessage, 0, len(models))
	for _, m := range models {
		out = append(out, directFileFromModel(m))
	}
	return out, nil
}

// AppendGroupMessage persists msg and trims the group's text history to keep.
func (s *GormStore) AppendGroupMessage(ctx context.Context, msg domain.GroupMessage, keep int) (domain.GroupMessage, error) {
	model := GroupMessageModel{
		GroupID:   msg.GroupID,
		SenderID:  msg.SenderID,
		Sender:    msg.Sender,
		Text:      msg.Text,
		IV:        msg.IV,
		CreatedAt: msg.CreatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, groupConversationKey(msg.GroupID), conversationGroup, model.CreatedAt); err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return trimConversation(tx, &GroupMessageModel{}, "group_id", msg.GroupID, keep)
	})
	if err != nil {
		return domain.GroupMessage{}, err
	}
	return groupMessageFromModel(model), nil
}

// AppendGroupFile persists file and trims the group's file history to keep.
func (s *GormStore) AppendGroupFile(ctx context.Context, file domain.GroupFileMessage, keep int) (domain.GroupFileMessage, error) {
	model := GroupFileModel{
		GroupID:   file.GroupID,
		SenderID:  file.SenderID,
		Sender:    file.Sender,
		File:      file.File,
		Filename:  file.Filename,
		FileType:  file.FileType,
		IV:        file.IV,
		CreatedAt: file.CreatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, groupConversationKey(file.GroupID), conversationGroup, model.CreatedAt); err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return trimConversation(tx, &GroupFileModel{}, "group_id", file.GroupID, keep)
	})
	if err != nil {
		return domain.GroupFileMessage{}, err
	}
	return groupFileFromModel(model), nil
}

// ListGroupMessages returns the newest group text messages, newest first.
func (s *GormStore) ListGroupMessages(ctx context.Context, groupID string, limit int) ([]domain.GroupMessage, error) {
	var models []GroupMessageModel
	if err := newestFirst(s.db.WithContext(ctx), limit).
		Where("group_id = ?", groupID).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.GroupMessage, 0, len(models))
	for _, m := range models {
		out = append(out, groupMessageFromModel(m))
	}
	return out, nil
}

// ListGroupFiles returns the newest group files, newest first.
func (s *GormStore) ListGroupFiles(ctx context.Context, groupID string, limit int) ([]domain.GroupFileMessage, error) {
	var models []GroupFileModel
	if err := newestFirst(s.db.WithContext(ctx), limit).
		Where("group_id = ?", groupID).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.GroupFileMessage, 0, len(models))
	for _, m := range models {
		out = append(out, groupFileFromModel(m))
	}
	return out, nil
}

func groupConversationKey(groupID string) string {
	return "group:" + groupID
}

func newestFirst(tx *gorm.DB, limit int) *gorm.DB {
	tx = tx.Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	return tx
}

func directMessageFromModel(m DirectMessageModel) domain.Message {
	return domain.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Sender:      m.Sender,
		Recipient:   m.Recipient,
		Ciphertext:  m.Ciphertext,
		IV:          m.IV,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func directFileFromModel(m DirectFileModel) domain.FileMessage {
	return domain.FileMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Sender:      m.Sender,
		Recipient:   m.Recipient,
		File:        m.File,
		Filename:    m.Filename,
		FileType:    m.FileType,
		IV:          m.IV,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func groupMessageFromModel(m GroupMessageModel) domain.GroupMessage {
	return domain.GroupMessage{
		ID:        m.ID,
		GroupID:   m.GroupID,
		SenderID:  m.SenderID,
		Sender:    m.Sender,
		Text:      m.Text,
		IV:        m.IV,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func groupFileFromModel(m GroupFileModel) domain.GroupFileMessage {
	return domain.GroupFileMessage{
		ID:        m.ID,
		GroupID:   m.GroupID,
		SenderID:  m.SenderID,
		Sender:    m.Sender,
		File:      m.File,
		Filename:  m.Filename,
		FileType:  m.FileType,
		IV:        m.IV,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
