package store

import (
	"context"
	"time"

	"ransomhub/pkg/domain"
)

// Store defines persistence operations for users, the relationship graph,
// conversations, groups, payments, reviews and the activity log.
type Store interface {
	UserStore
	RelationshipStore
	MessageStore
	GroupStore
	PaymentStore
	ReviewStore
	ActivityStore
}

// Credentials replace a user's password and key material on reset.
type Credentials struct {
	PasswordHash        string
	PublicKey           string
	EncryptedPrivateKey string
	PrivateKeySalt      string
}

// UserStore persists user identities.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	SaveUser(ctx context.Context, u domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUsersByUsernames(ctx context.Context, usernames []string) ([]domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SetUserSuspended(ctx context.Context, id string, suspended bool) error
	SetUserApproved(ctx context.Context, id string, approved bool) error
	// DeleteUser removes the user and everything they own. Activity entries
	// are kept with a null user.
	DeleteUser(ctx context.Context, id string) error

	SetUserVerificationCode(ctx context.Context, id, code string) error
	// ConsumeUserVerificationCode clears a matching code and marks the user verified.
	ConsumeUserVerificationCode(ctx context.Context, id, code string) error

	SetUserResetCode(ctx context.Context, id, code string) error
	// ConsumeUserResetCode clears a matching password reset code.
	ConsumeUserResetCode(ctx context.Context, id, code string) error
	// ResetUserCredentials replaces the credentials and deletes the user's
	// direct messages and files, which the old keys encrypted.
	ResetUserCredentials(ctx context.Context, id string, c Credentials) error
}

// BlockGuard inspects the locked actor row before a block or unblock is applied.
// A non-nil error aborts the mutation.
type BlockGuard func(actor domain.User) error

// RelationshipStore persists directed edges between users.
type RelationshipStore interface {
	Relationship(ctx context.Context, viewerID, otherID string) (domain.Relationship, error)
	HasEdge(ctx context.Context, fromID, toID string, kind domain.EdgeKind) (bool, error)

	CreateFollowRequest(ctx context.Context, requesterID, targetID string) error
	AcceptFollowRequest(ctx context.Context, targetID, requesterID string) error
	RejectFollowRequest(ctx context.Context, targetID, requesterID string) error

	// Block records actor blocking target. created is false when the edge already existed.
	Block(ctx context.Context, actorID, targetID string, now time.Time, guard BlockGuard) (created bool, err error)
	// Unblock removes the block edge. removed is false when there was nothing to remove.
	Unblock(ctx context.Context, actorID, targetID string, now time.Time, guard BlockGuard) (removed bool, err error)
	// Report blocks without touching the actor's rate-limit state.
	Report(ctx context.Context, reporterID, targetID string) (created bool, err error)

	ListFollowers(ctx context.Context, userID string) ([]domain.User, error)
	ListFollowing(ctx context.Context, userID string) ([]domain.User, error)
	ListFollowRequests(ctx context.Context, userID string) ([]domain.User, error)
}

// MessageStore persists bounded conversation history. Append operations
// insert and trim to the newest keep records in one transaction.
type MessageStore interface {
	AppendDirectMessage(ctx context.Context, msg domain.Message, keep int) (domain.Message, error)
	AppendDirectFile(ctx context.Context, file domain.FileMessage, keep int) (domain.FileMessage, error)
	ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]domain.Message, error)
	ListDirectFiles(ctx context.Context, userA, userB string, limit int) ([]domain.FileMessage, error)

	AppendGroupMessage(ctx context.Context, msg domain.GroupMessage, keep int) (domain.GroupMessage, error)
	AppendGroupFile(ctx context.Context, file domain.GroupFileMessage, keep int) (domain.GroupFileMessage, error)
	ListGroupMessages(ctx context.Context, groupID string, limit int) ([]domain.GroupMessage, error)
	ListGroupFiles(ctx context.Context, groupID string, limit int) ([]domain.GroupFileMessage, error)
}

// GroupStore persists groups and their membership.
type GroupStore interface {
	// CreateGroup inserts the group if its id is free and adds the members atomically.
	CreateGroup(ctx context.Context, g domain.Group, memberIDs []string) error
	// AddGroupMembers validates the whole batch against capacity and existing
	// membership before inserting any row.
	AddGroupMembers(ctx context.Context, groupID string, users []domain.User, capacity int) error
	GetGroup(ctx context.Context, id string) (domain.Group, bool, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]domain.Group, error)
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]domain.User, error)
}

// PaymentStore persists marketplace items and their payments.
type PaymentStore interface {
	SaveItem(ctx context.Context, item domain.Item) error
	GetItem(ctx context.Context, id string) (domain.Item, bool, error)
	ListItems(ctx context.Context, status domain.ItemStatus) ([]domain.Item, error)

	// GetOrCreatePayment returns the payment keyed by item and buyer, creating it from p when absent.
	GetOrCreatePayment(ctx context.Context, p domain.Payment) (domain.Payment, error)
	GetPayment(ctx context.Context, itemID, buyerID string) (domain.Payment, bool, error)
	SetPaymentVerificationCode(ctx context.Context, paymentID, code string) error
	// ConsumePaymentVerificationCode completes a pending payment on a matching
	// code and marks its item sold.
	ConsumePaymentVerificationCode(ctx context.Context, paymentID, code string) error
}

// ReviewStore persists wishlists and seller reviews.
type ReviewStore interface {
	// AddWishlistItem fails with ErrAlreadyWishlisted on a repeat.
	AddWishlistItem(ctx context.Context, entry domain.WishlistEntry) error
	RemoveWishlistItem(ctx context.Context, userID, itemID string) error
	ListWishlist(ctx context.Context, userID string) ([]domain.WishlistEntry, error)

	// CreateReview fails with ErrAlreadyReviewed when the payment has a review.
	CreateReview(ctx context.Context, review domain.Review) error
	ListReviewsFor(ctx context.Context, userID string) ([]domain.Review, error)
	UserRating(ctx context.Context, userID string) (domain.UserRating, error)
}

// ActivityStore persists the append-only audit trail.
type ActivityStore interface {
	AppendActivity(ctx context.Context, entry domain.ActivityLog) error
	ListActivity(ctx context.Context, filter domain.ActivityFilter) ([]domain.ActivityLog, error)
}
