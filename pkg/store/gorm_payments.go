package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"ransomhub/pkg/domain"
)

// SaveItem stores or updates a marketplace item.
func (s *GormStore) SaveItem(ctx context.Context, item domain.Item) error {
	model := itemToModel(item)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "price", "image_key", "status", "updated_at"}),
	}).Create(&model).Error
}

// GetItem retrieves an item.
func (s *GormStore) GetItem(ctx context.Context, id string) (domain.Item, bool, error) {
	var model ItemModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Item{}, false, nil
		}
		return domain.Item{}, false, err
	}
	return itemFromModel(model), true, nil
}

// ListItems returns items newest first, filtered by status when non-empty.
func (s *GormStore) ListItems(ctx context.Context, status domain.ItemStatus) ([]domain.Item, error) {
	tx := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	var models []ItemModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(models))
	for _, m := range models {
		items = append(items, itemFromModel(m))
	}
	return items, nil
}

// GetOrCreatePayment returns the payment for (item, buyer), inserting p when
// there is none yet. The unique index on the pair makes this race free.
func (s *GormStore) GetOrCreatePayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	model := paymentToModel(p)
	var out PaymentModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
			return err
		}
		return tx.Where("item_id = ? AND buyer_id = ?", p.ItemID, p.BuyerID).First(&out).Error
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return paymentFromModel(out), nil
}

// GetPayment returns the payment for (item, buyer).
func (s *GormStore) GetPayment(ctx context.Context, itemID, buyerID string) (domain.Payment, bool, error) {
	var model PaymentModel
	if err := s.db.WithContext(ctx).Where("item_id = ? AND buyer_id = ?", itemID, buyerID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Payment{}, false, nil
		}
		return domain.Payment{}, false, err
	}
	return paymentFromModel(model), true, nil
}

// SetPaymentVerificationCode stores code on a pending payment.
func (s *GormStore) SetPaymentVerificationCode(ctx context.Context, paymentID, code string) error {
	res := s.db.WithContext(ctx).Model(&PaymentModel{}).
		Where("id = ? AND status = ?", paymentID, string(domain.PaymentPending)).
		Updates(map[string]any{
			"verification_code": code,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ConsumePaymentVerificationCode completes a pending payment when code matches
// and marks its item sold, under locks on the payment and item rows. When
// another buyer already completed a payment for the item, the payment is
// marked failed and ErrItemSold is returned.
func (s *GormStore) ConsumePaymentVerificationCode(ctx context.Context, paymentID, code string) error {
	sold := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PaymentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if model.Status != string(domain.PaymentPending) {
			return ErrNoPendingCode
		}
		if err := matchCode(model.VerificationCode, code); err != nil {
			return err
		}
		var item ItemModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, "id = ?", model.ItemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		now := time.Now().UTC()
		if item.Status == string(domain.ItemSold) {
			sold = true
			return failPayment(tx, paymentID, now)
		}
		res := tx.Model(&ItemModel{}).
			Where("id = ? AND status = ?", item.ID, string(domain.ItemAvailable)).
			Updates(map[string]any{
				"status":     string(domain.ItemSold),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			sold = true
			return failPayment(tx, paymentID, now)
		}
		return tx.Model(&PaymentModel{}).Where("id = ?", paymentID).Updates(map[string]any{
			"status":            string(domain.PaymentCompleted),
			"verification_code": nil,
			"transaction_id":    uuid.NewString(),
			"updated_at":        now,
		}).Error
	})
	if err != nil {
		return err
	}
	if sold {
		return ErrItemSold
	}
	return nil
}

func failPayment(tx *gorm.DB, paymentID string, now time.Time) error {
	return tx.Model(&PaymentModel{}).Where("id = ?", paymentID).Updates(map[string]any{
		"status":            string(domain.PaymentFailed),
		"verification_code": nil,
		"updated_at":        now,
	}).Error
}

func itemToModel(i domain.Item) ItemModel {
	status := string(i.Status)
	if status == "" {
		status = string(domain.ItemAvailable)
	}
	return ItemModel{
		ID:          i.ID,
		SellerID:    i.SellerID,
		Title:       i.Title,
		Description: i.Description,
		Price:       i.Price,
		ImageKey:    i.ImageKey,
		Status:      status,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

func itemFromModel(m ItemModel) domain.Item {
	return domain.Item{
		ID:          m.ID,
		SellerID:    m.SellerID,
		Title:       m.Title,
		Description: m.Description,
		Price:       m.Price,
		ImageKey:    m.ImageKey,
		Status:      domain.ItemStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func paymentToModel(p domain.Payment) PaymentModel {
	var code *string
	if p.VerificationCode != "" {
		value := p.VerificationCode
		code = &value
	}
	return PaymentModel{
		ID:               p.ID,
		ItemID:           p.ItemID,
		BuyerID:          p.BuyerID,
		Amount:           p.Amount,
		Method:           string(p.Method),
		Status:           string(p.Status),
		VerificationCode: code,
		TransactionID:    p.TransactionID,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func paymentFromModel(m PaymentModel) domain.Payment {
	p := domain.Payment{
		ID:            m.ID,
		ItemID:        m.ItemID,
		BuyerID:       m.BuyerID,
		Amount:        m.Amount,
		Method:        domain.PaymentMethod(m.Method),
		Status:        domain.PaymentStatus(m.Status),
		TransactionID: m.TransactionID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.VerificationCode != nil {
		p.VerificationCode = *m.VerificationCode
	}
	return p
}
