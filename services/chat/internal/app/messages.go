package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"ransomhub/pkg/domain"
)

// Conversation is a merged direct thread plus the sender's view of the recipient.
type Conversation struct {
	Messages     []domain.ConversationEntry `json:"messages"`
	Relationship domain.Relationship        `json:"relationship"`
}

// FileInput is an opaque client-encrypted file. Data is base64.
type FileInput struct {
	Data     string
	Filename string
	FileType string
	IV       string
}

// SendDirectMessage stores ciphertext for the caller and recipient, keeping
// only the newest messages of the pair.
func (a *App) SendDirectMessage(ctx context.Context, caller domain.Identity, recipient, ciphertext, iv string) (domain.Message, error) {
	if strings.TrimSpace(recipient) == "" || ciphertext == "" {
		return domain.Message{}, ErrMissingFields
	}
	if err := checkText(ciphertext); err != nil {
		return domain.Message{}, err
	}
	from, to, err := a.directParties(ctx, caller, recipient)
	if err != nil {
		return domain.Message{}, err
	}
	msg, err := a.store.AppendDirectMessage(ctx, domain.Message{
		SenderID:    from.ID,
		RecipientID: to.ID,
		Sender:      from.Username,
		Recipient:   to.Username,
		Ciphertext:  ciphertext,
		IV:          iv,
		CreatedAt:   a.now(),
	}, textRetention)
	if err != nil {
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}
	messagesSent.WithLabelValues("direct", string(domain.MessageText)).Inc()

	a.notifyAll(ctx, []string{to.Username}, from.Username, notification{
		Sender:    from.Username,
		Type:      domain.MessageText,
		Message:   ciphertext,
		IV:        iv,
		Timestamp: msg.CreatedAt,
	})
	a.mirrorText(ctx, from.Username, to.Username, ciphertext, msg.CreatedAt)
	return msg, nil
}

// SendDirectFile stores an encrypted file between the caller and recipient.
// Files are not mirrored to the ledger.
func (a *App) SendDirectFile(ctx context.Context, caller domain.Identity, recipient string, file FileInput) (domain.FileMessage, error) {
	if strings.TrimSpace(recipient) == "" {
		return domain.FileMessage{}, ErrMissingFields
	}
	if err := checkFile(file); err != nil {
		return domain.FileMessage{}, err
	}
	from, to, err := a.directParties(ctx, caller, recipient)
	if err != nil {
		return domain.FileMessage{}, err
	}
	saved, err := a.store.AppendDirectFile(ctx, domain.FileMessage{
		SenderID:    from.ID,
		RecipientID: to.ID,
		Sender:      from.Username,
		Recipient:   to.Username,
		File:        file.Data,
		Filename:    file.Filename,
		FileType:    file.FileType,
		IV:          file.IV,
		CreatedAt:   a.now(),
	}, fileRetention)
	if err != nil {
		return domain.FileMessage{}, fmt.Errorf("save file: %w", err)
	}
	messagesSent.WithLabelValues("direct", string(domain.MessageFile)).Inc()

	a.notifyAll(ctx, []string{to.Username}, from.Username, notification{
		Sender:    from.Username,
		Type:      domain.MessageFile,
		Message:   fileSentMarker,
		IV:        file.IV,
		Timestamp: saved.CreatedAt,
	})
	return saved, nil
}

// SendGroupMessage stores text in a group and notifies every other member.
func (a *App) SendGroupMessage(ctx context.Context, caller domain.Identity, groupID, text string) (domain.GroupMessage, error) {
	if strings.TrimSpace(groupID) == "" || text == "" {
		return domain.GroupMessage{}, ErrMissingFields.WithMessage("group and message are required")
	}
	if err := checkText(text); err != nil {
		return domain.GroupMessage{}, err
	}
	sender, group, err := a.groupSender(ctx, caller, groupID)
	if err != nil {
		return domain.GroupMessage{}, err
	}
	msg, err := a.store.AppendGroupMessage(ctx, domain.GroupMessage{
		GroupID:   group.ID,
		SenderID:  sender.ID,
		Sender:    sender.Username,
		Text:      text,
		CreatedAt: a.now(),
	}, textRetention)
	if err != nil {
		return domain.GroupMessage{}, fmt.Errorf("save group message: %w", err)
	}
	messagesSent.WithLabelValues("group", string(domain.MessageText)).Inc()

	a.notifyAll(ctx, others(group.Members, sender.Username), group.ID, notification{
		Sender:    sender.Username,
		Type:      domain.MessageText,
		Message:   text,
		Timestamp: msg.CreatedAt,
	})
	a.mirrorText(ctx, sender.Username, group.ID, text, msg.CreatedAt)
	return msg, nil
}

// SendGroupFile stores an encrypted file in a group and notifies every other member.
func (a *App) SendGroupFile(ctx context.Context, caller domain.Identity, groupID string, file FileInput) (domain.GroupFileMessage, error) {
	if strings.TrimSpace(groupID) == "" {
		return domain.GroupFileMessage{}, ErrMissingFields.WithMessage("group is required")
	}
	if err := checkFile(file); err != nil {
		return domain.GroupFileMessage{}, err
	}
	sender, group, err := a.groupSender(ctx, caller, groupID)
	if err != nil {
		return domain.GroupFileMessage{}, err
	}
	saved, err := a.store.AppendGroupFile(ctx, domain.GroupFileMessage{
		GroupID:   group.ID,
		SenderID:  sender.ID,
		Sender:    sender.Username,
		File:      file.Data,
		Filename:  file.Filename,
		FileType:  file.FileType,
		IV:        file.IV,
		CreatedAt: a.now(),
	}, fileRetention)
	if err != nil {
		return domain.GroupFileMessage{}, fmt.Errorf("save group file: %w", err)
	}
	messagesSent.WithLabelValues("group", string(domain.MessageFile)).Inc()

	a.notifyAll(ctx, others(group.Members, sender.Username), group.ID, notification{
		Sender:    sender.Username,
		Type:      domain.MessageFile,
		Message:   fileSentMarker,
		IV:        file.IV,
		Timestamp: saved.CreatedAt,
	})
	return saved, nil
}

// FetchConversation returns the newest texts and files between sender and
// recipient, newest first. Only the sender may read it.
func (a *App) FetchConversation(ctx context.Context, caller domain.Identity, sender, recipient string) (Conversation, error) {
	if caller.Username == "" || caller.Username != sender {
		return Conversation{}, ErrNotParticipant
	}
	from, err := a.userByUsername(ctx, sender)
	if err != nil {
		return Conversation{}, err
	}
	to, err := a.userByUsername(ctx, recipient)
	if err != nil {
		return Conversation{}, err
	}
	texts, err := a.store.ListDirectMessages(ctx, from.ID, to.ID, textRetention)
	if err != nil {
		return Conversation{}, fmt.Errorf("list messages: %w", err)
	}
	files, err := a.store.ListDirectFiles(ctx, from.ID, to.ID, fileRetention)
	if err != nil {
		return Conversation{}, fmt.Errorf("list files: %w", err)
	}
	rel, err := a.store.Relationship(ctx, from.ID, to.ID)
	if err != nil {
		return Conversation{}, fmt.Errorf("load relationship: %w", err)
	}

	entries := make([]domain.ConversationEntry, 0, len(texts)+len(files))
	for _, m := range texts {
		entries = append(entries, domain.ConversationEntry{
			Type:      domain.MessageText,
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Message:   m.Ciphertext,
			IV:        m.IV,
			Timestamp: m.CreatedAt,
		})
	}
	for _, f := range files {
		entries = append(entries, domain.ConversationEntry{
			Type:      domain.MessageFile,
			Sender:    f.Sender,
			Recipient: f.Recipient,
			File:      f.File,
			Filename:  f.Filename,
			FileType:  f.FileType,
			IV:        f.IV,
			Timestamp: f.CreatedAt,
		})
	}
	sortNewestFirst(entries)
	return Conversation{Messages: entries, Relationship: rel}, nil
}

// FetchGroupConversation returns the newest texts and files of a group,
// newest first. Only members may read it.
func (a *App) FetchGroupConversation(ctx context.Context, caller domain.Identity, groupID string) ([]domain.ConversationEntry, error) {
	group, err := a.groupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	member, err := a.store.IsGroupMember(ctx, group.ID, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return nil, ErrGroupReadDenied
	}
	texts, err := a.store.ListGroupMessages(ctx, group.ID, textRetention)
	if err != nil {
		return nil, fmt.Errorf("list group messages: %w", err)
	}
	files, err := a.store.ListGroupFiles(ctx, group.ID, fileRetention)
	if err != nil {
		return nil, fmt.Errorf("list group files: %w", err)
	}

	entries := make([]domain.ConversationEntry, 0, len(texts)+len(files))
	for _, m := range texts {
		entries = append(entries, domain.ConversationEntry{
			Type:      domain.MessageText,
			Sender:    m.Sender,
			GroupID:   m.GroupID,
			Message:   m.Text,
			IV:        m.IV,
			Timestamp: m.CreatedAt,
		})
	}
	for _, f := range files {
		entries = append(entries, domain.ConversationEntry{
			Type:      domain.MessageFile,
			Sender:    f.Sender,
			GroupID:   f.GroupID,
			File:      f.File,
			Filename:  f.Filename,
			FileType:  f.FileType,
			IV:        f.IV,
			Timestamp: f.CreatedAt,
		})
	}
	sortNewestFirst(entries)
	return entries, nil
}

// directParties resolves both ends of a direct send. Either end being
// unverified or suspended rejects the send.
func (a *App) directParties(ctx context.Context, caller domain.Identity, recipient string) (domain.User, domain.User, error) {
	from, err := a.userByID(ctx, caller.UserID)
	if err != nil {
		return domain.User{}, domain.User{}, err
	}
	to, err := a.userByUsername(ctx, recipient)
	if err != nil {
		return domain.User{}, domain.User{}, err
	}
	if !from.CanMessage() || !to.CanMessage() {
		return domain.User{}, domain.User{}, ErrCannotMessage
	}
	return from, to, nil
}

func (a *App) groupSender(ctx context.Context, caller domain.Identity, groupID string) (domain.User, domain.Group, error) {
	sender, err := a.userByID(ctx, caller.UserID)
	if err != nil {
		return domain.User{}, domain.Group{}, err
	}
	if sender.IsSuspended {
		return domain.User{}, domain.Group{}, ErrSenderSuspended
	}
	group, err := a.groupByID(ctx, groupID)
	if err != nil {
		return domain.User{}, domain.Group{}, err
	}
	if !slices.Contains(group.Members, sender.Username) {
		return domain.User{}, domain.Group{}, ErrNotMember
	}
	return sender, group, nil
}

func checkText(text string) error {
	if utf8.RuneCountInString(text) > maxTextRunes {
		return ErrMessageTooLong
	}
	return nil
}

func checkFile(file FileInput) error {
	if file.Data == "" || strings.TrimSpace(file.Filename) == "" || strings.TrimSpace(file.FileType) == "" {
		return ErrFileMissing
	}
	size, err := decodedSize(file.Data)
	if err != nil {
		return err
	}
	if size > maxFileBytes {
		return ErrFileTooLarge
	}
	return nil
}

// decodedSize returns the byte length of a base64 payload, accepting an
// optional data URL prefix.
func decodedSize(data string) (int, error) {
	if i := strings.Index(data, ";base64,"); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+len(";base64,"):]
	}
	if len(data) > base64.StdEncoding.EncodedLen(maxFileBytes)+4 {
		return maxFileBytes + 1, nil
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(data)
		if err != nil {
			return 0, ErrFileEncoding
		}
	}
	return len(raw), nil
}

func sortNewestFirst(entries []domain.ConversationEntry) {
	slices.SortStableFunc(entries, func(x, y domain.ConversationEntry) int {
		return y.Timestamp.Compare(x.Timestamp)
	})
}

func others(members []string, self string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != self {
			out = append(out, m)
		}
	}
	return out
}

// unixSeconds is the ledger's timestamp resolution.
func unixSeconds(t time.Time) int64 {
	return t.UTC().Unix()
}
