package store

import (
	"context"

	"gorm.io/gorm/clause"
	"ransomhub/pkg/domain"
)

// AddWishlistItem saves an item to the user's wishlist.
func (s *GormStore) AddWishlistItem(ctx context.Context, entry domain.WishlistEntry) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&WishlistModel{
		UserID:    entry.UserID,
		ItemID:    entry.ItemID,
		CreatedAt: entry.CreatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyWishlisted
	}
	return nil
}

// RemoveWishlistItem drops an item from the user's wishlist.
func (s *GormStore) RemoveWishlistItem(ctx context.Context, userID, itemID string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND item_id = ?", userID, itemID).Delete(&WishlistModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWishlistNotFound
	}
	return nil
}

// ListWishlist returns the user's wishlist, newest first.
func (s *GormStore) ListWishlist(ctx context.Context, userID string) ([]domain.WishlistEntry, error) {
	var models []WishlistModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.WishlistEntry, 0, len(models))
	for _, m := range models {
		out = append(out, domain.WishlistEntry{UserID: m.UserID, ItemID: m.ItemID, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

// CreateReview stores a review. The unique payment_id index allows one per payment.
func (s *GormStore) CreateReview(ctx context.Context, r domain.Review) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ReviewModel{
		ID:             r.ID,
		PaymentID:      r.PaymentID,
		ItemID:         r.ItemID,
		ReviewerID:     r.ReviewerID,
		ReviewedUserID: r.ReviewedUserID,
		Rating:         r.Rating,
		Comment:        r.Comment,
		CreatedAt:      r.CreatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyReviewed
	}
	return nil
}

// ListReviewsFor returns the reviews a user received, newest first.
func (s *GormStore) ListReviewsFor(ctx context.Context, userID string) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.WithContext(ctx).Where("reviewed_user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Review, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Review{
			ID:             m.ID,
			PaymentID:      m.PaymentID,
			ItemID:         m.ItemID,
			ReviewerID:     m.ReviewerID,
			ReviewedUserID: m.ReviewedUserID,
			Rating:         m.Rating,
			Comment:        m.Comment,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}

// UserRating averages the ratings a user received. Users without reviews rate 0.
func (s *GormStore) UserRating(ctx context.Context, userID string) (domain.UserRating, error) {
	var row struct {
		Average *float64
		Count   int64
	}
	err := s.db.WithContext(ctx).Model(&ReviewModel{}).
		Select("CAST(AVG(rating) AS DOUBLE PRECISION) AS average, COUNT(*) AS count").
		Where("reviewed_user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return domain.UserRating{}, err
	}
	rating := domain.UserRating{Count: row.Count}
	if row.Average != nil {
		rating.Average = *row.Average
	}
	return rating, nil
}
