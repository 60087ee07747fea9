package app

import (
	"context"
	"fmt"
	"strings"

	"ransomhub/internal/util"
	"ransomhub/pkg/domain"
)

// AddToWishlist saves itemID for the caller. Saving it twice is a conflict.
func (a *App) AddToWishlist(ctx context.Context, caller domain.Identity, itemID string) (domain.WishlistEntry, error) {
	item, err := a.GetItem(ctx, itemID)
	if err != nil {
		return domain.WishlistEntry{}, err
	}
	entry := domain.WishlistEntry{UserID: caller.UserID, ItemID: item.ID, CreatedAt: a.now()}
	if err := a.store.AddWishlistItem(ctx, entry); err != nil {
		return domain.WishlistEntry{}, err
	}
	return entry, nil
}

// RemoveFromWishlist drops itemID from the caller's wishlist.
func (a *App) RemoveFromWishlist(ctx context.Context, caller domain.Identity, itemID string) error {
	return a.store.RemoveWishlistItem(ctx, caller.UserID, itemID)
}

// Wishlist lists the items the caller saved, newest first.
func (a *App) Wishlist(ctx context.Context, caller domain.Identity) ([]domain.WishlistEntry, error) {
	return a.store.ListWishlist(ctx, caller.UserID)
}

// ReviewInput rates the seller of a purchased item.
type ReviewInput struct {
	Rating  int
	Comment string
}

// ReviewSeller records the caller's review of the seller of itemID. Only a
// buyer whose payment completed may review, once per payment.
func (a *App) ReviewSeller(ctx context.Context, caller domain.Identity, itemID string, in ReviewInput) (domain.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return domain.Review{}, ErrInvalidRating
	}
	item, err := a.GetItem(ctx, itemID)
	if err != nil {
		return domain.Review{}, err
	}
	payment, ok, err := a.store.GetPayment(ctx, item.ID, caller.UserID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("fetch payment: %w", err)
	}
	if !ok || payment.Status != domain.PaymentCompleted {
		return domain.Review{}, ErrNotPurchased
	}
	review := domain.Review{
		ID:             util.NewID(),
		PaymentID:      payment.ID,
		ItemID:         item.ID,
		ReviewerID:     caller.UserID,
		ReviewedUserID: item.SellerID,
		Rating:         in.Rating,
		Comment:        strings.TrimSpace(in.Comment),
		CreatedAt:      a.now(),
	}
	if err := a.store.CreateReview(ctx, review); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// SellerReviews returns the reviews username received with their average.
func (a *App) SellerReviews(ctx context.Context, username string) ([]domain.Review, domain.UserRating, error) {
	user, err := a.userByUsername(ctx, username)
	if err != nil {
		return nil, domain.UserRating{}, err
	}
	reviews, err := a.store.ListReviewsFor(ctx, user.ID)
	if err != nil {
		return nil, domain.UserRating{}, fmt.Errorf("list reviews: %w", err)
	}
	rating, err := a.store.UserRating(ctx, user.ID)
	if err != nil {
		return nil, domain.UserRating{}, fmt.Errorf("user rating: %w", err)
	}
	return reviews, rating, nil
}
