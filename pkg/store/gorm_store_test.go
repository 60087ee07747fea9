package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ransomhub/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *GormStore, username string) domain.User {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{
		ID:           "id-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice")

	dup := alice
	dup.ID = "other"
	dup.Email = "new@example.com"
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	dup.Username = "alice2"
	dup.Email = "ALICE@example.com"
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	got, ok, err := s.GetUserByEmail(ctx, " Alice@Example.com ")
	if err != nil || !ok || got.ID != alice.ID {
		t.Fatalf("lookup by email: ok=%v err=%v got=%+v", ok, err, got)
	}
}

func TestUserVerificationCodeSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "carol")

	if err := s.SetUserVerificationCode(ctx, u.ID, "012345"); err != nil {
		t.Fatalf("set code: %v", err)
	}
	if err := s.ConsumeUserVerificationCode(ctx, u.ID, "999999"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if err := s.ConsumeUserVerificationCode(ctx, u.ID, "012345"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := s.ConsumeUserVerificationCode(ctx, u.ID, "012345"); !errors.Is(err, ErrNoPendingCode) {
		t.Fatalf("expected code to be cleared, got %v", err)
	}
	got, _, _ := s.GetUserByID(ctx, u.ID)
	if !got.IsVerified || got.VerificationCode != "" {
		t.Fatalf("expected verified user without code, got %+v", got)
	}
}

func TestDirectMessageRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 21; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		_, err := s.AppendDirectMessage(ctx, domain.Message{
			SenderID:    from.ID,
			RecipientID: to.ID,
			Sender:      from.Username,
			Recipient:   to.Username,
			Ciphertext:  fmt.Sprintf("m%d", i),
			IV:          "iv",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}, 20)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	msgs, err := s.ListDirectMessages(ctx, b.ID, a.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 20 {
		t.Fatalf("expected 20 retained, got %d", len(msgs))
	}
	if msgs[0].Ciphertext != "m20" || msgs[19].Ciphertext != "m1" {
		t.Fatalf("unexpected window: first=%s last=%s", msgs[0].Ciphertext, msgs[19].Ciphertext)
	}
	for i := 1; i < len(msgs); i++ {
		if !msgs[i-1].CreatedAt.After(msgs[i].CreatedAt) {
			t.Fatalf("not strictly descending at %d", i)
		}
	}

	for i := 0; i < 7; i++ {
		if _, err := s.AppendDirectFile(ctx, domain.FileMessage{
			SenderID: a.ID, RecipientID: b.ID, Sender: a.Username, Recipient: b.Username,
			File: "blob", Filename: fmt.Sprintf("f%d.png", i), FileType: "image/png",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}, 5); err != nil {
			t.Fatalf("append file %d: %v", i, err)
		}
	}
	files, err := s.ListDirectFiles(ctx, a.ID, b.ID, 0)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 5 || files[0].Filename != "f6.png" {
		t.Fatalf("unexpected files: %d first=%v", len(files), files)
	}
	again, _ := s.ListDirectMessages(ctx, a.ID, b.ID, 0)
	if len(again) != 20 {
		t.Fatalf("file trim touched text history: %d", len(again))
	}
}

func TestGroupMessageRetentionIsPerGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	for _, id := range []string{"g1", "g2"} {
		if err := s.CreateGroup(ctx, domain.Group{ID: id, Name: id, CreatedBy: a.Username}, []string{a.ID}); err != nil {
			t.Fatalf("create group: %v", err)
		}
	}
	base := time.Now().UTC()
	for i := 0; i < 25; i++ {
		if _, err := s.AppendGroupMessage(ctx, domain.GroupMessage{
			GroupID: "g1", SenderID: a.ID, Sender: a.Username, Text: "x",
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}, 20); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := s.AppendGroupMessage(ctx, domain.GroupMessage{
		GroupID: "g2", SenderID: a.ID, Sender: a.Username, Text: "y", CreatedAt: base,
	}, 20); err != nil {
		t.Fatalf("append g2: %v", err)
	}
	g1, _ := s.ListGroupMessages(ctx, "g1", 0)
	g2, _ := s.ListGroupMessages(ctx, "g2", 0)
	if len(g1) != 20 || len(g2) != 1 {
		t.Fatalf("unexpected retention g1=%d g2=%d", len(g1), len(g2))
	}
}

func TestBlockIsIdempotentAndSeversEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")

	if err := s.CreateFollowRequest(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := s.AcceptFollowRequest(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.CreateFollowRequest(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("reverse request: %v", err)
	}

	now := time.Now().UTC()
	created, err := s.Block(ctx, a.ID, b.ID, now, nil)
	if err != nil || !created {
		t.Fatalf("block: created=%v err=%v", created, err)
	}
	created, err = s.Block(ctx, a.ID, b.ID, now, nil)
	if err != nil || created {
		t.Fatalf("second block: created=%v err=%v", created, err)
	}

	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		rel, err := s.Relationship(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("relationship: %v", err)
		}
		if rel.IsFollowing || rel.FollowRequestSent {
			t.Fatalf("edges survived block: %+v", rel)
		}
	}
	rel, _ := s.Relationship(ctx, a.ID, b.ID)
	if !rel.IsBlocked {
		t.Fatalf("expected block edge")
	}
	actor, _, _ := s.GetUserByID(ctx, a.ID)
	if actor.BlockActionCount != 1 || actor.LastBlockAt == nil {
		t.Fatalf("expected a single counted block, got %+v", actor)
	}
	if err := s.AcceptFollowRequest(ctx, a.ID, b.ID); !errors.Is(err, ErrNoFollowRequest) {
		t.Fatalf("expected pending request to be cleared, got %v", err)
	}
	if err := s.CreateFollowRequest(ctx, b.ID, a.ID); !errors.Is(err, ErrBlockedByTarget) {
		t.Fatalf("expected blocked follow request, got %v", err)
	}
}

func TestBlockGuardAbortsMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")
	stop := errors.New("stop")

	if _, err := s.Block(ctx, a.ID, b.ID, time.Now(), func(domain.User) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("expected guard error, got %v", err)
	}
	rel, _ := s.Relationship(ctx, a.ID, b.ID)
	if rel.IsBlocked {
		t.Fatalf("guard did not abort block")
	}
}

func TestUnblockFloorsCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")

	// report does not count towards the block cap
	if _, err := s.Report(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("report: %v", err)
	}
	removed, err := s.Unblock(ctx, a.ID, b.ID, time.Now(), nil)
	if err != nil || !removed {
		t.Fatalf("unblock: removed=%v err=%v", removed, err)
	}
	actor, _, _ := s.GetUserByID(ctx, a.ID)
	if actor.BlockActionCount != 0 {
		t.Fatalf("expected floored counter, got %d", actor.BlockActionCount)
	}
	removed, err = s.Unblock(ctx, a.ID, b.ID, time.Now(), nil)
	if err != nil || removed {
		t.Fatalf("second unblock: removed=%v err=%v", removed, err)
	}
}

func TestFollowRequestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")

	if err := s.AcceptFollowRequest(ctx, b.ID, a.ID); !errors.Is(err, ErrNoFollowRequest) {
		t.Fatalf("expected no request, got %v", err)
	}
	if err := s.CreateFollowRequest(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := s.RejectFollowRequest(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	followers, _ := s.ListFollowers(ctx, b.ID)
	requests, _ := s.ListFollowRequests(ctx, b.ID)
	if len(followers) != 0 || len(requests) != 0 {
		t.Fatalf("reject left state: followers=%d requests=%d", len(followers), len(requests))
	}

	if err := s.CreateFollowRequest(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("request again: %v", err)
	}
	if err := s.AcceptFollowRequest(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	followers, _ = s.ListFollowers(ctx, b.ID)
	following, _ := s.ListFollowing(ctx, a.ID)
	if len(followers) != 1 || followers[0].ID != a.ID || len(following) != 1 || following[0].ID != b.ID {
		t.Fatalf("edges not symmetric: followers=%v following=%v", followers, following)
	}
	if err := s.CreateFollowRequest(ctx, a.ID, b.ID); !errors.Is(err, ErrAlreadyFollowing) {
		t.Fatalf("expected already following, got %v", err)
	}
}

func TestCreateGroupRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	g := domain.Group{ID: "abc123def456", Name: "Study", CreatedBy: a.Username}
	if err := s.CreateGroup(ctx, g, []string{a.ID}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateGroup(ctx, g, []string{a.ID}); !errors.Is(err, ErrDuplicateGroup) {
		t.Fatalf("expected duplicate group, got %v", err)
	}
	got, ok, err := s.GetGroup(ctx, g.ID)
	if err != nil || !ok || len(got.Members) != 1 || got.Members[0] != "alice" {
		t.Fatalf("get group: ok=%v err=%v got=%+v", ok, err, got)
	}
}

func TestAddGroupMembersAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")
	c := seedUser(t, s, "carol")
	if err := s.CreateGroup(ctx, domain.Group{ID: "g", Name: "g", CreatedBy: a.Username}, []string{a.ID}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.AddGroupMembers(ctx, "g", []domain.User{b, a, c}, 10)
	if !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected already member, got %v", err)
	}
	if ok, _ := s.IsGroupMember(ctx, "g", b.ID); ok {
		t.Fatalf("partial batch was committed")
	}

	if err := s.AddGroupMembers(ctx, "g", []domain.User{b, c}, 2); !errors.Is(err, ErrGroupFull) {
		t.Fatalf("expected group full, got %v", err)
	}
	if err := s.AddGroupMembers(ctx, "g", []domain.User{b, c}, 10); err != nil {
		t.Fatalf("add: %v", err)
	}
	members, _ := s.ListGroupMembers(ctx, "g")
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	mine, _ := s.ListGroupsForUser(ctx, c.ID)
	if len(mine) != 1 || mine[0].ID != "g" {
		t.Fatalf("unexpected groups for carol: %+v", mine)
	}
	if err := s.AddGroupMembers(ctx, "missing", []domain.User{b}, 10); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected group not found, got %v", err)
	}
}

func TestPaymentCompletionMarksItemSold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seller := seedUser(t, s, "seller")
	buyer := seedUser(t, s, "buyer")
	now := time.Now().UTC()
	item := domain.Item{ID: "item-1", SellerID: seller.ID, Title: "lamp", Price: 100, CreatedAt: now, UpdatedAt: now}
	if err := s.SaveItem(ctx, item); err != nil {
		t.Fatalf("save item: %v", err)
	}

	p := domain.Payment{ID: "pay-1", ItemID: item.ID, BuyerID: buyer.ID, Amount: 100, Method: domain.MethodCredit, Status: domain.PaymentPending, CreatedAt: now, UpdatedAt: now}
	first, err := s.GetOrCreatePayment(ctx, p)
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	p.ID = "pay-2"
	second, err := s.GetOrCreatePayment(ctx, p)
	if err != nil || second.ID != first.ID {
		t.Fatalf("expected same payment, got %q vs %q err=%v", second.ID, first.ID, err)
	}

	if err := s.SetPaymentVerificationCode(ctx, first.ID, "000042"); err != nil {
		t.Fatalf("set code: %v", err)
	}
	if err := s.ConsumePaymentVerificationCode(ctx, first.ID, "000041"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if err := s.ConsumePaymentVerificationCode(ctx, first.ID, "000042"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	paid, _, _ := s.GetPayment(ctx, item.ID, buyer.ID)
	if paid.Status != domain.PaymentCompleted || paid.TransactionID == "" || paid.VerificationCode != "" {
		t.Fatalf("unexpected payment: %+v", paid)
	}
	sold, _, _ := s.GetItem(ctx, item.ID)
	if sold.Status != domain.ItemSold {
		t.Fatalf("expected item sold, got %s", sold.Status)
	}
	if err := s.ConsumePaymentVerificationCode(ctx, first.ID, "000042"); !errors.Is(err, ErrNoPendingCode) {
		t.Fatalf("expected no pending code, got %v", err)
	}
	if err := s.SetPaymentVerificationCode(ctx, first.ID, "111111"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected completed payment to refuse a new code, got %v", err)
	}
}

func TestActivityLogNewestFirstAndSurvivesUserless(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := "ghost"
	base := time.Now().UTC()
	entries := []domain.ActivityLog{
		{UserID: &uid, Action: domain.ActionUserRegistration, Description: "registered", CreatedAt: base},
		{Action: domain.ActionUserReport, Description: "Reported user: bob for: spam", Metadata: map[string]any{"reason": "spam"}, CreatedAt: base.Add(time.Second)},
	}
	for _, e := range entries {
		if err := s.AppendActivity(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := s.ListActivity(ctx, domain.ActivityFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Action != domain.ActionUserReport || got[0].Metadata["reason"] != "spam" {
		t.Fatalf("unexpected activity: %+v", got)
	}
	filtered, _ := s.ListActivity(ctx, domain.ActivityFilter{Action: domain.ActionUserRegistration})
	if len(filtered) != 1 || filtered[0].UserID == nil || *filtered[0].UserID != uid {
		t.Fatalf("unexpected filtered activity: %+v", filtered)
	}
}

func TestConcurrentSignupsReportTheTakenColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateUser(ctx, domain.User{
				ID:           fmt.Sprintf("u%d", i),
				Username:     fmt.Sprintf("user%d", i),
				Email:        "shared@example.com",
				PasswordHash: "hash",
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}(i)
	}
	wg.Wait()
	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, ErrDuplicateEmail):
			t.Fatalf("expected duplicate email, got %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one signup to win, got %d", created)
	}
}

func TestPaymentForSoldItemFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seller := seedUser(t, s, "seller")
	first := seedUser(t, s, "first")
	second := seedUser(t, s, "second")
	now := time.Now().UTC()
	if err := s.SaveItem(ctx, domain.Item{ID: "item-1", SellerID: seller.ID, Title: "lamp", Price: 100, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("save item: %v", err)
	}
	var payments []domain.Payment
	for i, buyer := range []domain.User{first, second} {
		p, err := s.GetOrCreatePayment(ctx, domain.Payment{
			ID: fmt.Sprintf("pay-%d", i), ItemID: "item-1", BuyerID: buyer.ID, Amount: 100,
			Method: domain.MethodCredit, Status: domain.PaymentPending, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("open payment: %v", err)
		}
		if err := s.SetPaymentVerificationCode(ctx, p.ID, "123456"); err != nil {
			t.Fatalf("set code: %v", err)
		}
		payments = append(payments, p)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(payments))
	for i, p := range payments {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = s.ConsumePaymentVerificationCode(ctx, id, "123456")
		}(i, p.ID)
	}
	wg.Wait()

	completed, failed := 0, 0
	for i, err := range errs {
		got, _, _ := s.GetPayment(ctx, "item-1", payments[i].BuyerID)
		switch {
		case err == nil && got.Status == domain.PaymentCompleted:
			completed++
		case errors.Is(err, ErrItemSold) && got.Status == domain.PaymentFailed && got.VerificationCode == "":
			failed++
		default:
			t.Fatalf("unexpected outcome %v for %+v", err, got)
		}
	}
	if completed != 1 || failed != 1 {
		t.Fatalf("expected one completion and one failure, got %d and %d", completed, failed)
	}
}

func TestResetCredentialsDropsDirectHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")
	if _, err := s.AppendDirectMessage(ctx, domain.Message{SenderID: b.ID, RecipientID: a.ID, Sender: "bob", Recipient: "alice", Ciphertext: "x", CreatedAt: time.Now()}, 20); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.SetUserResetCode(ctx, a.ID, "654321"); err != nil {
		t.Fatalf("set reset code: %v", err)
	}
	if err := s.ConsumeUserResetCode(ctx, a.ID, "111111"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if err := s.ConsumeUserResetCode(ctx, a.ID, "654321"); err != nil {
		t.Fatalf("consume reset code: %v", err)
	}
	if err := s.ResetUserCredentials(ctx, a.ID, Credentials{PasswordHash: "new", PublicKey: "pk", EncryptedPrivateKey: "ek", PrivateKeySalt: "ks"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _, _ := s.GetUserByID(ctx, a.ID)
	if got.PasswordHash != "new" || got.PublicKey != "pk" || got.ResetCode != "" {
		t.Fatalf("unexpected user after reset: %+v", got)
	}
	if msgs, _ := s.ListDirectMessages(ctx, a.ID, b.ID, 0); len(msgs) != 0 {
		t.Fatalf("expected history dropped, got %d", len(msgs))
	}
	if err := s.ResetUserCredentials(ctx, "missing", Credentials{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteUserNullsActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")
	if err := s.AppendActivity(ctx, domain.ActivityLog{UserID: &a.ID, Action: domain.ActionLogin, Description: "User logged in"}); err != nil {
		t.Fatalf("append activity: %v", err)
	}
	if err := s.CreateFollowRequest(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := s.CreateGroup(ctx, domain.Group{ID: "g1", Name: "g", CreatedBy: b.Username}, []string{a.ID, b.ID}); err != nil {
		t.Fatalf("group: %v", err)
	}

	if err := s.DeleteUser(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteUser(ctx, a.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	logs, _ := s.ListActivity(ctx, domain.ActivityFilter{})
	if len(logs) != 1 || logs[0].UserID != nil {
		t.Fatalf("expected surviving entry with null user: %+v", logs)
	}
	if requests, _ := s.ListFollowRequests(ctx, b.ID); len(requests) != 0 {
		t.Fatalf("expected edges removed: %+v", requests)
	}
	if member, _ := s.IsGroupMember(ctx, "g1", a.ID); member {
		t.Fatal("expected membership removed")
	}
	if member, _ := s.IsGroupMember(ctx, "g1", b.ID); !member {
		t.Fatal("other members must stay")
	}
}

func TestWishlistAndReviewUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.AddWishlistItem(ctx, domain.WishlistEntry{UserID: "u1", ItemID: "i1", CreatedAt: now}); err != nil {
		t.Fatalf("wishlist: %v", err)
	}
	if err := s.AddWishlistItem(ctx, domain.WishlistEntry{UserID: "u1", ItemID: "i1", CreatedAt: now}); !errors.Is(err, ErrAlreadyWishlisted) {
		t.Fatalf("expected already wishlisted, got %v", err)
	}
	review := domain.Review{ID: "r1", PaymentID: "p1", ItemID: "i1", ReviewerID: "u1", ReviewedUserID: "u2", Rating: 3, CreatedAt: now}
	if err := s.CreateReview(ctx, review); err != nil {
		t.Fatalf("review: %v", err)
	}
	review.ID = "r2"
	if err := s.CreateReview(ctx, review); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected already reviewed, got %v", err)
	}
	if err := s.CreateReview(ctx, domain.Review{ID: "r3", PaymentID: "p2", ItemID: "i2", ReviewerID: "u3", ReviewedUserID: "u2", Rating: 4, CreatedAt: now}); err != nil {
		t.Fatalf("second review: %v", err)
	}
	rating, err := s.UserRating(ctx, "u2")
	if err != nil || rating.Count != 2 || rating.Average != 3.5 {
		t.Fatalf("unexpected rating: %+v %v", rating, err)
	}
}

func TestConcurrentAppendsKeepRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "alice")
	b := seedUser(t, s, "bob")
	base := time.Now().UTC()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 6; i++ {
				at := base.Add(time.Duration(w*6+i) * time.Millisecond)
				if _, err := s.AppendDirectMessage(ctx, domain.Message{
					SenderID: a.ID, RecipientID: b.ID, Sender: "alice", Recipient: "bob", Ciphertext: "m", CreatedAt: at,
				}, 20); err != nil {
					t.Errorf("append message: %v", err)
				}
				if _, err := s.AppendDirectFile(ctx, domain.FileMessage{
					SenderID: b.ID, RecipientID: a.ID, Sender: "bob", Recipient: "alice",
					File: "f", Filename: "f.png", FileType: "image/png", CreatedAt: at,
				}, 5); err != nil {
					t.Errorf("append file: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()
	msgs, _ := s.ListDirectMessages(ctx, a.ID, b.ID, 0)
	files, _ := s.ListDirectFiles(ctx, a.ID, b.ID, 0)
	if len(msgs) != 20 || len(files) != 5 {
		t.Fatalf("retention exceeded under concurrency: %d messages %d files", len(msgs), len(files))
	}
	if !msgs[0].CreatedAt.Equal(base.Add(47 * time.Millisecond)) {
		t.Fatalf("expected the newest message to survive, got %v", msgs[0].CreatedAt)
	}
}
