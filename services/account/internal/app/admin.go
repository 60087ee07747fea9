package app

import (
	"context"
	"fmt"
	"strings"

	"ransomhub/internal/util"
	"ransomhub/pkg/domain"
)

// ListUsers returns every account. Admin only.
func (a *App) ListUsers(ctx context.Context, caller domain.Identity) ([]domain.User, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return a.store.ListUsers(ctx)
}

// SetSuspended suspends or reinstates userID. Admin only.
func (a *App) SetSuspended(ctx context.Context, caller domain.Identity, userID string, suspended bool, ip string) error {
	if !caller.IsAdmin() {
		return ErrAdminOnly
	}
	if userID == caller.UserID {
		return ErrSelfAction
	}
	target, err := a.userByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := a.store.SetUserSuspended(ctx, target.ID, suspended); err != nil {
		return err
	}
	verb := "Reinstated"
	if suspended {
		verb = "Suspended"
	}
	a.record(ctx, &caller.UserID, domain.ActionAdminModeration,
		fmt.Sprintf("%s user: %s", verb, target.Username), ip,
		map[string]any{"target": target.Username, "suspended": suspended})
	return nil
}

// ActivityLog returns audit entries, newest first. Admin only.
func (a *App) ActivityLog(ctx context.Context, caller domain.Identity, filter domain.ActivityFilter) ([]domain.ActivityLog, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return a.store.ListActivity(ctx, filter)
}

// DeleteUser removes userID and everything they own. Admin accounts and the
// caller cannot be removed. Activity entries stay with a null user. Admin only.
func (a *App) DeleteUser(ctx context.Context, caller domain.Identity, userID, ip string) error {
	target, err := a.moderationTarget(ctx, caller, userID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteUser(ctx, target.ID); err != nil {
		return err
	}
	if a.objects != nil {
		a.dropObject(ctx, target.ProfileImageKey)
		a.dropObject(ctx, target.IdentityDocKey)
	}
	a.record(ctx, &caller.UserID, domain.ActionAdminModeration,
		fmt.Sprintf("Removed user: %s", target.Username), ip,
		map[string]any{"target": target.Username, "removed": true})
	return nil
}

// SetApproved approves or revokes userID's identity verification. Admin only.
func (a *App) SetApproved(ctx context.Context, caller domain.Identity, userID string, approved bool, ip string) error {
	target, err := a.moderationTarget(ctx, caller, userID)
	if err != nil {
		return err
	}
	if err := a.store.SetUserApproved(ctx, target.ID, approved); err != nil {
		return err
	}
	verb := "Disapproved"
	if approved {
		verb = "Approved"
	}
	a.record(ctx, &caller.UserID, domain.ActionAdminModeration,
		fmt.Sprintf("%s user: %s", verb, target.Username), ip,
		map[string]any{"target": target.Username, "approved": approved})
	return nil
}

// VerificationDocument points an admin at a user's uploaded identity document.
type VerificationDocument struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DocumentURL string `json:"documentUrl"`
}

// VerificationDoc returns a short-lived link to userID's identity document. Admin only.
func (a *App) VerificationDoc(ctx context.Context, caller domain.Identity, userID string) (VerificationDocument, error) {
	if !caller.IsAdmin() {
		return VerificationDocument{}, ErrAdminOnly
	}
	target, err := a.userByID(ctx, userID)
	if err != nil {
		return VerificationDocument{}, err
	}
	if target.IdentityDocKey == "" {
		return VerificationDocument{}, ErrNoIdentityDoc
	}
	if a.objects == nil {
		return VerificationDocument{}, ErrStorageDisabled
	}
	url, err := a.objects.PresignGet(ctx, target.IdentityDocKey, a.presignExpiry)
	if err != nil {
		return VerificationDocument{}, fmt.Errorf("presign document: %w", err)
	}
	return VerificationDocument{UserID: target.ID, Username: target.Username, DocumentURL: url}, nil
}

// LogEntryInput is a manually filed activity entry. UserID defaults to the caller.
type LogEntryInput struct {
	UserID      string
	Action      domain.ActionType
	Description string
	Metadata    map[string]any
}

// CreateLogEntry files an activity entry by hand, e.g. a CONTENT_FLAG. Admin only.
func (a *App) CreateLogEntry(ctx context.Context, caller domain.Identity, in LogEntryInput, ip string) (domain.ActivityLog, error) {
	if !caller.IsAdmin() {
		return domain.ActivityLog{}, ErrAdminOnly
	}
	in.Description = strings.TrimSpace(in.Description)
	if in.Action == "" || in.Description == "" {
		return domain.ActivityLog{}, ErrMissingDetails
	}
	if !in.Action.Valid() {
		return domain.ActivityLog{}, ErrInvalidAction
	}
	userID := caller.UserID
	if in.UserID != "" {
		subject, err := a.userByID(ctx, in.UserID)
		if err != nil {
			return domain.ActivityLog{}, err
		}
		userID = subject.ID
	}
	entry := domain.ActivityLog{
		ID:          util.NewID(),
		UserID:      &userID,
		Action:      in.Action,
		Description: in.Description,
		IP:          ip,
		Metadata:    in.Metadata,
		CreatedAt:   a.now(),
	}
	if err := a.store.AppendActivity(ctx, entry); err != nil {
		return domain.ActivityLog{}, fmt.Errorf("append activity: %w", err)
	}
	return entry, nil
}

func (a *App) moderationTarget(ctx context.Context, caller domain.Identity, userID string) (domain.User, error) {
	if !caller.IsAdmin() {
		return domain.User{}, ErrAdminOnly
	}
	if userID == caller.UserID {
		return domain.User{}, ErrSelfAction
	}
	target, err := a.userByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if target.Role == domain.RoleAdmin {
		return domain.User{}, ErrProtectedUser
	}
	return target, nil
}
