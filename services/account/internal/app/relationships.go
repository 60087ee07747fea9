package app

import (
	"context"
	"fmt"
	"strings"

	"ransomhub/internal/ratelimit"
	"ransomhub/pkg/domain"
)

// SendFollowRequest records a pending request from the caller to username.
// Repeating a pending request is a no-op.
func (a *App) SendFollowRequest(ctx context.Context, caller domain.Identity, username string) error {
	target, err := a.counterpart(ctx, caller, username)
	if err != nil {
		return err
	}
	return a.store.CreateFollowRequest(ctx, caller.UserID, target.ID)
}

// AcceptFollowRequest turns username's pending request into a follow.
func (a *App) AcceptFollowRequest(ctx context.Context, caller domain.Identity, username string) error {
	requester, err := a.counterpart(ctx, caller, username)
	if err != nil {
		return err
	}
	return a.store.AcceptFollowRequest(ctx, caller.UserID, requester.ID)
}

// RejectFollowRequest drops username's pending request.
func (a *App) RejectFollowRequest(ctx context.Context, caller domain.Identity, username string) error {
	requester, err := a.counterpart(ctx, caller, username)
	if err != nil {
		return err
	}
	return a.store.RejectFollowRequest(ctx, caller.UserID, requester.ID)
}

// BlockUser blocks username, severing follows and pending requests in both
// directions. The cooldown and active-block cap are checked against the
// locked caller row. created is false when the block already existed.
func (a *App) BlockUser(ctx context.Context, caller domain.Identity, username, ip string) (bool, error) {
	target, err := a.counterpart(ctx, caller, username)
	if err != nil {
		return false, err
	}
	now := a.now()
	created, err := a.store.Block(ctx, caller.UserID, target.ID, now, func(actor domain.User) error {
		return a.cooldown.CheckBlock(actionState(actor), now)
	})
	if err != nil {
		blockActions.WithLabelValues("block", outcome(err)).Inc()
		return false, err
	}
	blockActions.WithLabelValues("block", "success").Inc()
	if created {
		a.record(ctx, &caller.UserID, domain.ActionUserBlock,
			fmt.Sprintf("Blocked user: %s", target.Username), ip, map[string]any{"target": target.Username})
	}
	return created, nil
}

// UnblockUser removes a block. removed is false when there was none.
func (a *App) UnblockUser(ctx context.Context, caller domain.Identity, username, ip string) (bool, error) {
	target, err := a.counterpart(ctx, caller, username)
	if err != nil {
		return false, err
	}
	now := a.now()
	removed, err := a.store.Unblock(ctx, caller.UserID, target.ID, now, func(actor domain.User) error {
		return a.cooldown.CheckUnblock(actionState(actor), now)
	})
	if err != nil {
		blockActions.WithLabelValues("unblock", outcome(err)).Inc()
		return false, err
	}
	blockActions.WithLabelValues("unblock", "success").Inc()
	if removed {
		a.record(ctx, &caller.UserID, domain.ActionUserUnblock,
			fmt.Sprintf("Unblocked user: %s", target.Username), ip, map[string]any{"target": target.Username})
	}
	return removed, nil
}

// defaultReportReason stands in for a blank report reason.
const defaultReportReason = "No reason provided"

// ReportUser blocks username and records the report. Reports do not count
// against the block cooldown.
func (a *App) ReportUser(ctx context.Context, caller domain.Identity, username, reason, ip string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultReportReason
	}
	target, err := a.counterpart(ctx, caller, username)
	if err != nil {
		return err
	}
	if _, err := a.store.Report(ctx, caller.UserID, target.ID); err != nil {
		return err
	}
	a.record(ctx, &caller.UserID, domain.ActionUserReport,
		fmt.Sprintf("Reported user: %s for: %s", target.Username, reason), ip,
		map[string]any{"target": target.Username, "reason": reason})
	return nil
}

// Relationship returns the caller's edges towards username.
func (a *App) Relationship(ctx context.Context, caller domain.Identity, username string) (domain.Relationship, error) {
	target, err := a.userByUsername(ctx, username)
	if err != nil {
		return domain.Relationship{}, err
	}
	return a.store.Relationship(ctx, caller.UserID, target.ID)
}

// Followers lists users following the caller.
func (a *App) Followers(ctx context.Context, caller domain.Identity) ([]domain.User, error) {
	return a.store.ListFollowers(ctx, caller.UserID)
}

// Following lists users the caller follows.
func (a *App) Following(ctx context.Context, caller domain.Identity) ([]domain.User, error) {
	return a.store.ListFollowing(ctx, caller.UserID)
}

// FollowRequests lists users waiting for the caller to accept them.
func (a *App) FollowRequests(ctx context.Context, caller domain.Identity) ([]domain.User, error) {
	return a.store.ListFollowRequests(ctx, caller.UserID)
}

func (a *App) counterpart(ctx context.Context, caller domain.Identity, username string) (domain.User, error) {
	target, err := a.userByUsername(ctx, username)
	if err != nil {
		return domain.User{}, err
	}
	if target.ID == caller.UserID {
		return domain.User{}, ErrSelfAction
	}
	return target, nil
}

func actionState(u domain.User) ratelimit.ActionState {
	return ratelimit.ActionState{LastActionAt: u.LastBlockAt, ActionCount: u.BlockActionCount}
}
