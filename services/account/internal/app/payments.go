package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ransomhub/internal/util"
	"ransomhub/pkg/domain"
	"ransomhub/pkg/store"
)

// ItemInput describes a new marketplace listing.
type ItemInput struct {
	Title       string
	Description string
	Price       int64
}

// CreateItem lists an item for sale by the caller.
func (a *App) CreateItem(ctx context.Context, caller domain.Identity, in ItemInput) (domain.Item, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || in.Price <= 0 {
		return domain.Item{}, ErrItemFields
	}
	now := a.now()
	item := domain.Item{
		ID:          util.NewID(),
		SellerID:    caller.UserID,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		Status:      domain.ItemAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveItem(ctx, item); err != nil {
		return domain.Item{}, fmt.Errorf("save item: %w", err)
	}
	return item, nil
}

// ListItems lists marketplace items, optionally filtered by status.
func (a *App) ListItems(ctx context.Context, status domain.ItemStatus) ([]domain.Item, error) {
	return a.store.ListItems(ctx, status)
}

// GetItem returns a single item.
func (a *App) GetItem(ctx context.Context, id string) (domain.Item, error) {
	item, ok, err := a.store.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, fmt.Errorf("fetch item: %w", err)
	}
	if !ok {
		return domain.Item{}, store.ErrItemNotFound
	}
	return item, nil
}

// ItemImageURL returns a presigned URL for the item's picture, or "".
func (a *App) ItemImageURL(ctx context.Context, item domain.Item) string {
	return a.objectURL(ctx, item.ImageKey)
}

// SendPaymentOTP opens (or reuses) the caller's pending payment for itemID
// and mails a payment code. Mail failures are logged; the client can resend.
func (a *App) SendPaymentOTP(ctx context.Context, caller domain.Identity, itemID string, method domain.PaymentMethod) (domain.Payment, error) {
	if method == "" {
		method = domain.MethodCredit
	}
	if method != domain.MethodCredit && method != domain.MethodCrypto {
		return domain.Payment{}, ErrInvalidMethod
	}
	item, err := a.GetItem(ctx, itemID)
	if err != nil {
		return domain.Payment{}, err
	}
	if item.Status == domain.ItemSold {
		return domain.Payment{}, store.ErrItemSold
	}
	if item.SellerID == caller.UserID {
		return domain.Payment{}, ErrOwnItem
	}
	buyer, err := a.userByID(ctx, caller.UserID)
	if err != nil {
		return domain.Payment{}, err
	}
	now := a.now()
	payment, err := a.store.GetOrCreatePayment(ctx, domain.Payment{
		ID:        util.NewID(),
		ItemID:    item.ID,
		BuyerID:   buyer.ID,
		Amount:    item.Price,
		Method:    method,
		Status:    domain.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("open payment: %w", err)
	}
	if payment.Status != domain.PaymentPending {
		return domain.Payment{}, store.ErrPaymentNotPending
	}
	if err := a.issuePaymentCode(ctx, payment, buyer); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

// VerifyPaymentOTP completes the caller's pending payment for itemID when the
// code matches. The item is marked sold in the same transaction.
func (a *App) VerifyPaymentOTP(ctx context.Context, caller domain.Identity, itemID, code, ip string) (domain.Payment, error) {
	payment, err := a.pendingPayment(ctx, caller, itemID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := a.paymentCodes.Verify(ctx, payment.ID, code); err != nil {
		if errors.Is(err, store.ErrNoPendingCode) {
			err = ErrNoPendingPayment
		}
		otpResults.WithLabelValues("payment", "fail").Inc()
		return domain.Payment{}, err
	}
	otpResults.WithLabelValues("payment", "success").Inc()
	completed, _, err := a.store.GetPayment(ctx, itemID, caller.UserID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("fetch payment: %w", err)
	}
	a.record(ctx, &caller.UserID, domain.ActionPaymentCompleted,
		fmt.Sprintf("Payment completed for item: %s", itemID), ip,
		map[string]any{"item": itemID, "payment": completed.ID, "amount": completed.Amount})
	return completed, nil
}

// ResendPaymentOTP replaces the code of the caller's pending payment.
func (a *App) ResendPaymentOTP(ctx context.Context, caller domain.Identity, itemID string) error {
	payment, err := a.pendingPayment(ctx, caller, itemID)
	if err != nil {
		return err
	}
	buyer, err := a.userByID(ctx, caller.UserID)
	if err != nil {
		return err
	}
	return a.issuePaymentCode(ctx, payment, buyer)
}

func (a *App) pendingPayment(ctx context.Context, caller domain.Identity, itemID string) (domain.Payment, error) {
	if _, err := a.GetItem(ctx, itemID); err != nil {
		return domain.Payment{}, err
	}
	payment, ok, err := a.store.GetPayment(ctx, itemID, caller.UserID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("fetch payment: %w", err)
	}
	if !ok || payment.Status != domain.PaymentPending {
		return domain.Payment{}, ErrNoPendingPayment
	}
	return payment, nil
}

func (a *App) issuePaymentCode(ctx context.Context, payment domain.Payment, buyer domain.User) error {
	err := a.paymentCodes.Issue(ctx, payment.ID, buyer.Email)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrPaymentNotFound) {
		return ErrNoPendingPayment
	}
	// The code is stored even when delivery fails.
	a.logger.Warn("payment_code_delivery_failed", "payment_id", payment.ID, "err", err)
	return nil
}
