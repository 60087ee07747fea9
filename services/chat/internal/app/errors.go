package app

import "ransomhub/pkg/apperr"

var (
	ErrUnauthenticated = apperr.Unauthorized("unauthorized", "unauthorized")

	// ErrNotParticipant is returned when the caller asks for someone else's thread.
	ErrNotParticipant = apperr.Unauthorized("not_participant", "user not authorized")

	ErrMissingFields    = apperr.Validation("missing_fields", "recipient and message are required")
	ErrUsernameRequired = apperr.Validation("username_required", "username is required")
	ErrMessageTooLong   = apperr.Validation("message_too_long", "message too long, up to 256 characters are allowed")
	ErrFileMissing      = apperr.Validation("file_missing", "file, file name and file type are required")
	ErrFileEncoding     = apperr.Validation("file_encoding", "file must be base64 encoded")
	ErrFileTooLarge     = apperr.Validation("file_too_large", "file too large")
	ErrCannotMessage    = apperr.Validation("cannot_message", "sender or recipient is not verified or is suspended")
	ErrSenderSuspended  = apperr.Validation("sender_suspended", "sender is suspended")

	ErrGroupName       = apperr.Validation("group_name", "group name is required")
	ErrGroupSize       = apperr.Validation("group_size", "members must be between 1 and 20")
	ErrDuplicateMember = apperr.Validation("duplicate_member", "members must be unique")
	ErrNoMembers       = apperr.Validation("no_members", "members must be a non-empty list of usernames")
	ErrNotMember       = apperr.Forbidden("not_member", "user is not a member of the group")
	ErrGroupReadDenied = apperr.Unauthorized("not_member", "user not authorized")

	ErrLedgerDisabled = apperr.Upstream("ledger_unavailable", "ledger is not configured", nil)
)
