package store

import "ransomhub/pkg/apperr"

var (
	ErrUserNotFound      = apperr.NotFound("user_not_found", "user not found")
	ErrDuplicateUsername = apperr.Conflict("username_taken", "username already exists")
	ErrDuplicateEmail    = apperr.Conflict("email_taken", "email already exists")

	ErrNoPendingCode = apperr.NotFound("no_pending_code", "no verification code pending")
	ErrInvalidCode   = apperr.Validation("invalid_code", "invalid verification code")

	ErrNoFollowRequest  = apperr.NotFound("no_follow_request", "no follow request from this user")
	ErrAlreadyFollowing = apperr.Conflict("already_following", "you are already following this user")
	ErrBlockedByTarget  = apperr.Forbidden("blocked_by_target", "you cannot follow this user")

	ErrGroupNotFound  = apperr.NotFound("group_not_found", "group not found")
	ErrDuplicateGroup = apperr.Conflict("duplicate_group", "a group with this name and members already exists")
	ErrGroupFull      = apperr.Validation("group_full", "group is full")
	ErrAlreadyMember  = apperr.Conflict("already_member", "user is already a member of the group")

	ErrItemNotFound      = apperr.NotFound("item_not_found", "item not found")
	ErrItemSold          = apperr.Conflict("item_sold", "item already sold")
	ErrPaymentNotFound   = apperr.NotFound("payment_not_found", "pending payment not found")
	ErrPaymentNotPending = apperr.Conflict("payment_not_pending", "payment is no longer pending")

	ErrAlreadyWishlisted = apperr.Conflict("already_wishlisted", "item is already in your wishlist")
	ErrWishlistNotFound  = apperr.NotFound("wishlist_entry_not_found", "item is not in your wishlist")
	ErrAlreadyReviewed   = apperr.Conflict("already_reviewed", "this purchase has already been reviewed")
)
