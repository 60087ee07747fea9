package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                  string `gorm:"primaryKey"`
	Username            string `gorm:"uniqueIndex;not null"`
	Email               string `gorm:"uniqueIndex;not null"`
	Name                string
	Phone               string
	PasswordHash        string `gorm:"not null"`
	Role                string `gorm:"not null"`
	IsVerified          bool   `gorm:"not null"`
	IsApproved          bool   `gorm:"not null"`
	IsSuspended         bool   `gorm:"not null"`
	PublicKey           string `gorm:"type:text"`
	EncryptedPrivateKey string `gorm:"type:text"`
	PrivateKeySalt      string
	VerificationCode    *string
	ResetCode           *string
	ProfileImageKey     string
	IdentityDocKey      string
	LastBlockAt         *time.Time
	BlockActionCount    int       `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time
}

// RelationModel is one directed edge of the social graph.
type RelationModel struct {
	FromID    string    `gorm:"primaryKey"`
	ToID      string    `gorm:"primaryKey;index"`
	Kind      string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

// ConversationModel is the lock row serializing appends to one conversation.
type ConversationModel struct {
	ID            string `gorm:"primaryKey"`
	Kind          string `gorm:"not null"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

type DirectMessageModel struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"not null;index"`
	SenderID       string    `gorm:"not null"`
	RecipientID    string    `gorm:"not null"`
	Sender         string    `gorm:"not null"`
	Recipient      string    `gorm:"not null"`
	Ciphertext     string    `gorm:"type:text;not null"`
	IV             string    `gorm:"column:iv"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

type DirectFileModel struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"not null;index"`
	SenderID       string    `gorm:"not null"`
	RecipientID    string    `gorm:"not null"`
	Sender         string    `gorm:"not null"`
	Recipient      string    `gorm:"not null"`
	File           string    `gorm:"type:text;not null"`
	Filename       string    `gorm:"not null"`
	FileType       string    `gorm:"not null"`
	IV             string    `gorm:"column:iv"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

type GroupModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	CreatedBy string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type GroupMemberModel struct {
	GroupID   string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type GroupMessageModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	GroupID   string    `gorm:"not null;index"`
	SenderID  string    `gorm:"not null"`
	Sender    string    `gorm:"not null"`
	Text      string    `gorm:"type:text;not null"`
	IV        string    `gorm:"column:iv"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type GroupFileModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	GroupID   string    `gorm:"not null;index"`
	SenderID  string    `gorm:"not null"`
	Sender    string    `gorm:"not null"`
	File      string    `gorm:"type:text;not null"`
	Filename  string    `gorm:"not null"`
	FileType  string    `gorm:"not null"`
	IV        string    `gorm:"column:iv"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type ItemModel struct {
	ID          string `gorm:"primaryKey"`
	SellerID    string `gorm:"not null;index"`
	Title       string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Price       int64  `gorm:"not null"`
	ImageKey    string
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type PaymentModel struct {
	ID               string `gorm:"primaryKey"`
	ItemID           string `gorm:"not null;uniqueIndex:idx_payment_item_buyer"`
	BuyerID          string `gorm:"not null;uniqueIndex:idx_payment_item_buyer"`
	Amount           int64  `gorm:"not null"`
	Method           string `gorm:"not null"`
	Status           string `gorm:"not null"`
	VerificationCode *string
	TransactionID    string
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type WishlistModel struct {
	UserID    string    `gorm:"primaryKey"`
	ItemID    string    `gorm:"primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type ReviewModel struct {
	ID             string    `gorm:"primaryKey"`
	PaymentID      string    `gorm:"not null;uniqueIndex"`
	ItemID         string    `gorm:"not null"`
	ReviewerID     string    `gorm:"not null;index"`
	ReviewedUserID string    `gorm:"not null;index"`
	Rating         int       `gorm:"not null"`
	Comment        string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
}

// ActivityLogModel has no foreign key on UserID so entries outlive the user.
type ActivityLogModel struct {
	ID          string  `gorm:"primaryKey"`
	UserID      *string `gorm:"index"`
	Action      string  `gorm:"not null;index"`
	Description string  `gorm:"type:text"`
	IP          string
	Metadata    datatypes.JSON
	CreatedAt   time.Time `gorm:"not null;index"`
}

func allModels() []any {
	return []any{
		&UserModel{},
		&RelationModel{},
		&ConversationModel{},
		&DirectMessageModel{},
		&DirectFileModel{},
		&GroupModel{},
		&GroupMemberModel{},
		&GroupMessageModel{},
		&GroupFileModel{},
		&ItemModel{},
		&PaymentModel{},
		&WishlistModel{},
		&ReviewModel{},
		&ActivityLogModel{},
	}
}
