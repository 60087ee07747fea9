package app

import "ransomhub/pkg/apperr"

var (
	// ErrInvalidCredentials must not reveal whether the email exists.
	ErrInvalidCredentials = apperr.Unauthorized("invalid_credentials", "invalid email or password")
	ErrNotVerified        = apperr.Forbidden("not_verified", "user is not verified, please verify OTP")
	ErrSuspended          = apperr.Forbidden("suspended", "account suspended")
	ErrAlreadyVerified    = apperr.Validation("already_verified", "user already verified")
	ErrMissingFields      = apperr.Validation("missing_fields", "username, name, email and password are required")
	ErrMissingKeys        = apperr.Validation("missing_keys", "public_key, encrypted_private_key and private_key_salt are required")
	ErrInvalidUsername    = apperr.Validation("invalid_username", "username must be 3-32 letters, digits, '_' or '.'")
	ErrWeakPassword       = apperr.Validation("weak_password", "password does not meet requirements")
	ErrUnauthenticated    = apperr.Unauthorized("unauthorized", "unauthorized")
	ErrAdminOnly          = apperr.Forbidden("forbidden", "admin access required")

	ErrResetFields = apperr.Validation("missing_fields", "email, otp and new_password are required")

	ErrSelfAction     = apperr.Validation("self_action", "you cannot do this to yourself")
	ErrProtectedUser  = apperr.Forbidden("protected_user", "admin accounts cannot be changed this way")
	ErrNoIdentityDoc  = apperr.NotFound("no_verification_document", "no verification documents found")
	ErrInvalidAction  = apperr.Validation("invalid_action", "unknown action type")
	ErrMissingDetails = apperr.Validation("missing_fields", "action and description are required")

	ErrItemFields       = apperr.Validation("invalid_item", "title and a positive price are required")
	ErrOwnItem          = apperr.Validation("own_item", "you cannot buy your own item")
	ErrInvalidMethod    = apperr.Validation("invalid_method", "payment method must be credit or crypto")
	ErrNotItemOwner     = apperr.Forbidden("not_owner", "only the seller can change this item")
	ErrNoPendingPayment = apperr.NotFound("no_pending_payment", "no pending payment found for this item")
	ErrNotPurchased     = apperr.Forbidden("not_purchased", "only buyers with a completed payment can review")
	ErrInvalidRating    = apperr.Validation("invalid_rating", "rating must be between 1 and 5")

	ErrStorageDisabled = apperr.Upstream("storage_unavailable", "file storage is not configured", nil)
	ErrCaptchaDisabled = apperr.Upstream("captcha_unavailable", "captcha verification is not configured", nil)
)
