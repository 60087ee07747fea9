package app

import (
	"bytes"
	"context"
	"fmt"

	"ransomhub/pkg/domain"
	"ransomhub/pkg/storage"
)

// UploadProfileImage validates and stores the caller's profile picture,
// replacing the previous one.
func (a *App) UploadProfileImage(ctx context.Context, caller domain.Identity, filename, contentType string, data []byte) (string, error) {
	if err := storage.ValidateImage(filename, data); err != nil {
		return "", err
	}
	if a.objects == nil {
		return "", ErrStorageDisabled
	}
	user, err := a.userByID(ctx, caller.UserID)
	if err != nil {
		return "", err
	}
	key := storage.ObjectKey("profiles", user.ID, filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", ErrStorageDisabled.WithMessage("failed to store file").Wrap(err)
	}
	previous := user.ProfileImageKey
	user.ProfileImageKey = key
	if err := a.store.SaveUser(ctx, user); err != nil {
		return "", fmt.Errorf("save user: %w", err)
	}
	a.dropObject(ctx, previous)
	return a.objectURL(ctx, key), nil
}

// UploadIdentityDocument stores an identity document and approves the
// caller. Approved users cannot upload again.
func (a *App) UploadIdentityDocument(ctx context.Context, caller domain.Identity, contentType string, data []byte) error {
	user, err := a.userByID(ctx, caller.UserID)
	if err != nil {
		return err
	}
	if user.IsApproved {
		return ErrAlreadyVerified.WithMessage("user already approved")
	}
	if err := storage.ValidateDocument(contentType, data); err != nil {
		return err
	}
	if a.objects == nil {
		return ErrStorageDisabled
	}
	key := storage.ObjectKey("identity", user.ID, documentName(contentType))
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return ErrStorageDisabled.WithMessage("failed to store file").Wrap(err)
	}
	user.IdentityDocKey = key
	user.IsApproved = true
	if err := a.store.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// UploadItemImage attaches a picture to an item owned by the caller.
func (a *App) UploadItemImage(ctx context.Context, caller domain.Identity, itemID, filename, contentType string, data []byte) (string, error) {
	item, err := a.GetItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	if item.SellerID != caller.UserID {
		return "", ErrNotItemOwner
	}
	if err := storage.ValidateImage(filename, data); err != nil {
		return "", err
	}
	if a.objects == nil {
		return "", ErrStorageDisabled
	}
	key := storage.ObjectKey("items", item.ID, filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", ErrStorageDisabled.WithMessage("failed to store file").Wrap(err)
	}
	previous := item.ImageKey
	item.ImageKey = key
	item.UpdatedAt = a.now()
	if err := a.store.SaveItem(ctx, item); err != nil {
		return "", fmt.Errorf("save item: %w", err)
	}
	a.dropObject(ctx, previous)
	return a.objectURL(ctx, key), nil
}

func (a *App) objectURL(ctx context.Context, key string) string {
	if key == "" || a.objects == nil {
		return ""
	}
	url, err := a.objects.PresignGet(ctx, key, a.presignExpiry)
	if err != nil {
		a.logger.Warn("presign_failed", "key", key, "err", err)
		return ""
	}
	return url
}

func (a *App) dropObject(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := a.objects.Delete(ctx, key); err != nil {
		a.logger.Warn("object_delete_failed", "key", key, "err", err)
	}
}

func documentName(contentType string) string {
	switch contentType {
	case "application/pdf":
		return "document.pdf"
	case "image/png":
		return "document.png"
	default:
		return "document.jpg"
	}
}
