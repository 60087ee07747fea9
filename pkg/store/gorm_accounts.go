package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResetUserCredentials swaps in new credentials and drops the user's direct
// history in one transaction.
func (s *GormStore) ResetUserCredentials(ctx context.Context, id string, c Credentials) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&UserModel{}).Where("id = ?", id).Updates(map[string]any{
			"password_hash":         c.PasswordHash,
			"public_key":            c.PublicKey,
			"encrypted_private_key": c.EncryptedPrivateKey,
			"private_key_salt":      c.PrivateKeySalt,
			"reset_code":            nil,
			"updated_at":            time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return deleteDirectHistory(tx, id)
	})
}

func deleteDirectHistory(tx *gorm.DB, userID string) error {
	if err := tx.Where("sender_id = ? OR recipient_id = ?", userID, userID).Delete(&DirectMessageModel{}).Error; err != nil {
		return err
	}
	return tx.Where("sender_id = ? OR recipient_id = ?", userID, userID).Delete(&DirectFileModel{}).Error
}

// DeleteUser removes a user with their edges, memberships, messages, listings,
// payments, wishlist and reviews. Activity entries survive with user_id cleared.
func (s *GormStore) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.Model(&ActivityLogModel{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return err
		}
		if err := deleteDirectHistory(tx, id); err != nil {
			return err
		}
		itemIDs := tx.Model(&ItemModel{}).Select("id").Where("seller_id = ?", id)
		deletes := []struct {
			model any
			query string
			args  []any
		}{
			{&RelationModel{}, "from_id = ? OR to_id = ?", []any{id, id}},
			{&GroupMemberModel{}, "user_id = ?", []any{id}},
			{&GroupMessageModel{}, "sender_id = ?", []any{id}},
			{&GroupFileModel{}, "sender_id = ?", []any{id}},
			{&WishlistModel{}, "user_id = ? OR item_id IN (?)", []any{id, itemIDs}},
			{&ReviewModel{}, "reviewer_id = ? OR reviewed_user_id = ?", []any{id, id}},
			{&PaymentModel{}, "buyer_id = ? OR item_id IN (?)", []any{id, itemIDs}},
			{&ItemModel{}, "seller_id = ?", []any{id}},
		}
		for _, d := range deletes {
			if err := tx.Where(d.query, d.args...).Delete(d.model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&UserModel{}, "id = ?", id).Error
	})
}
