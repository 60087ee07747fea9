package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	Phone               string     `json:"phone,omitempty"`
	PasswordHash        string     `json:"-"`
	Role                UserRole   `json:"role"`
	IsVerified          bool       `json:"isVerified"`
	IsApproved          bool       `json:"isApproved"`
	IsSuspended         bool       `json:"isSuspended"`
	PublicKey           string     `json:"publicKey,omitempty"`
	EncryptedPrivateKey string     `json:"-"`
	PrivateKeySalt      string     `json:"-"`
	VerificationCode    string     `json:"-"`
	ResetCode           string     `json:"-"`
	ProfileImageKey     string     `json:"-"`
	IdentityDocKey      string     `json:"-"`
	LastBlockAt         *time.Time `json:"-"`
	BlockActionCount    int        `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// CanMessage reports whether the user may take part in a direct conversation.
func (u User) CanMessage() bool {
	return u.IsVerified && !u.IsSuspended
}

// Identity is the authenticated caller of a core operation.
type Identity struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type EdgeKind string

const (
	EdgeFollows       EdgeKind = "follows"
	EdgeBlocked       EdgeKind = "blocked"
	EdgeFollowRequest EdgeKind = "follow_request"
)

// Relationship is the viewer's view of another user.
type Relationship struct {
	IsFollowing       bool `json:"isFollowing"`
	FollowRequestSent bool `json:"followRequestSent"`
	IsBlocked         bool `json:"isBlocked"`
}

type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// Message is a direct text message. Ciphertext is opaque to the server.
type Message struct {
	ID          uint64    `json:"id"`
	SenderID    string    `json:"-"`
	RecipientID string    `json:"-"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Ciphertext  string    `json:"message"`
	IV          string    `json:"iv"`
	CreatedAt   time.Time `json:"timestamp"`
}

// FileMessage is a direct file transfer. File is the opaque client payload.
type FileMessage struct {
	ID          uint64    `json:"id"`
	SenderID    string    `json:"-"`
	RecipientID string    `json:"-"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	File        string    `json:"file"`
	Filename    string    `json:"filename"`
	FileType    string    `json:"fileType"`
	IV          string    `json:"iv"`
	CreatedAt   time.Time `json:"timestamp"`
}

type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

type GroupMessage struct {
	ID        uint64    `json:"id"`
	GroupID   string    `json:"group"`
	SenderID  string    `json:"-"`
	Sender    string    `json:"sender"`
	Text      string    `json:"message"`
	IV        string    `json:"iv,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

type GroupFileMessage struct {
	ID        uint64    `json:"id"`
	GroupID   string    `json:"group"`
	SenderID  string    `json:"-"`
	Sender    string    `json:"sender"`
	File      string    `json:"file"`
	Filename  string    `json:"filename"`
	FileType  string    `json:"fileType"`
	IV        string    `json:"iv"`
	CreatedAt time.Time `json:"timestamp"`
}

// ConversationEntry is one item of a merged text+file thread.
type ConversationEntry struct {
	Type      MessageType `json:"type"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient,omitempty"`
	GroupID   string      `json:"group,omitempty"`
	Message   string      `json:"message,omitempty"`
	File      string      `json:"file,omitempty"`
	Filename  string      `json:"filename,omitempty"`
	FileType  string      `json:"fileType,omitempty"`
	IV        string      `json:"iv,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LedgerMessage is a mirrored message as returned by the ledger view.
type LedgerMessage struct {
	Sender    string     `json:"sender"`
	Recipient string     `json:"recipient"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp"`
}

type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemSold      ItemStatus = "sold"
)

type Item struct {
	ID          string     `json:"id"`
	SellerID    string     `json:"sellerId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Price       int64      `json:"price"`
	ImageKey    string     `json:"-"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCredit PaymentMethod = "credit"
	MethodCrypto PaymentMethod = "crypto"
)

type Payment struct {
	ID               string        `json:"id"`
	ItemID           string        `json:"itemId"`
	BuyerID          string        `json:"buyerId"`
	Amount           int64         `json:"amount"`
	Method           PaymentMethod `json:"method"`
	Status           PaymentStatus `json:"status"`
	VerificationCode string        `json:"-"`
	TransactionID    string        `json:"transactionId,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

type ActionType string

const (
	ActionUserRegistration ActionType = "USER_REGISTRATION"
	ActionLogin            ActionType = "LOGIN"
	ActionPasswordChange   ActionType = "PASSWORD_CHANGE"
	ActionAdminModeration  ActionType = "ADMIN_MODERATION"
	ActionContentFlag      ActionType = "CONTENT_FLAG"
	ActionUserReport       ActionType = "USER_REPORT"
	ActionUserBlock        ActionType = "USER_BLOCK"
	ActionUserUnblock      ActionType = "USER_UNBLOCK"
	ActionPaymentCompleted ActionType = "PAYMENT_COMPLETED"
)

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionUserRegistration, ActionLogin, ActionPasswordChange, ActionAdminModeration,
		ActionContentFlag, ActionUserReport, ActionUserBlock, ActionUserUnblock, ActionPaymentCompleted:
		return true
	}
	return false
}

type ActivityLog struct {
	ID          string         `json:"id"`
	UserID      *string        `json:"userId,omitempty"`
	Action      ActionType     `json:"actionType"`
	Description string         `json:"description"`
	IP          string         `json:"ipAddress,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"timestamp"`
}

// ActivityFilter narrows an activity log listing. Zero values match everything.
type ActivityFilter struct {
	Action ActionType
	Since  time.Time
	Until  time.Time
	Limit  int
}

// WishlistEntry is an item a user saved for later.
type WishlistEntry struct {
	UserID    string    `json:"-"`
	ItemID    string    `json:"itemId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Review rates the seller of a completed payment. A payment has at most one review.
type Review struct {
	ID             string    `json:"id"`
	PaymentID      string    `json:"paymentId"`
	ItemID         string    `json:"itemId"`
	ReviewerID     string    `json:"reviewerId"`
	ReviewedUserID string    `json:"reviewedUserId"`
	Rating         int       `json:"rating"`
	Comment        string    `json:"comment"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UserRating aggregates the reviews a user received.
type UserRating struct {
	Average float64 `json:"averageRating"`
	Count   int64   `json:"totalReviews"`
}
