package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"ransomhub/pkg/domain"
	"ransomhub/pkg/store"
)

// GroupID derives the content-addressed group id: the first 12 hex chars of
// SHA-256 over the name followed by the member usernames in order.
func GroupID(name string, members []string) string {
	h := sha256.New()
	h.Write([]byte(name))
	for _, m := range members {
		h.Write([]byte(m))
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// CreateGroup creates a group of 1 to 20 existing users. The caller is not
// added unless listed. The same name and member list always yields the same
// id, so a repeat is a conflict.
func (a *App) CreateGroup(ctx context.Context, caller domain.Identity, name string, members []string) (domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Group{}, ErrGroupName
	}
	if len(members) < 1 || len(members) > maxGroupCreate {
		return domain.Group{}, ErrGroupSize
	}
	members, err := cleanUsernames(members)
	if err != nil {
		return domain.Group{}, err
	}
	users, err := a.resolveUsers(ctx, members)
	if err != nil {
		return domain.Group{}, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	group := domain.Group{
		ID:        GroupID(name, members),
		Name:      name,
		CreatedBy: caller.Username,
		Members:   members,
		CreatedAt: a.now(),
	}
	if err := a.store.CreateGroup(ctx, group, ids); err != nil {
		return domain.Group{}, err
	}
	groupsCreated.Inc()
	a.logger.Info("group_created", "group_id", group.ID, "created_by", caller.Username, "members", len(members))
	return group, nil
}

// AddMembers adds every listed user or none. The caller must already belong
// to the group and the result may not exceed ten members.
func (a *App) AddMembers(ctx context.Context, caller domain.Identity, groupID string, members []string) (domain.Group, error) {
	if len(members) == 0 {
		return domain.Group{}, ErrNoMembers
	}
	members, err := cleanUsernames(members)
	if err != nil {
		return domain.Group{}, err
	}
	group, err := a.groupByID(ctx, groupID)
	if err != nil {
		return domain.Group{}, err
	}
	if !slices.Contains(group.Members, caller.Username) {
		return domain.Group{}, ErrNotMember
	}
	users, err := a.resolveUsers(ctx, members)
	if err != nil {
		return domain.Group{}, err
	}
	if err := a.store.AddGroupMembers(ctx, group.ID, users, groupCapacity); err != nil {
		return domain.Group{}, err
	}
	a.logger.Info("group_members_added", "group_id", group.ID, "added_by", caller.Username, "count", len(users))
	return a.groupByID(ctx, group.ID)
}

// ListGroupsForUser returns the groups username belongs to.
func (a *App) ListGroupsForUser(ctx context.Context, username string) ([]domain.Group, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrUsernameRequired
	}
	user, err := a.userByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	groups, err := a.store.ListGroupsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// ListAllGroups returns every group.
func (a *App) ListAllGroups(ctx context.Context) ([]domain.Group, error) {
	groups, err := a.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// GroupMembers lists member usernames for a caller who is a member.
func (a *App) GroupMembers(ctx context.Context, caller domain.Identity, groupID string) ([]string, error) {
	group, err := a.groupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(group.Members, caller.Username) {
		return nil, ErrNotMember
	}
	return group.Members, nil
}

// resolveUsers returns the users for usernames in the same order, failing on
// the first name that does not exist.
func (a *App) resolveUsers(ctx context.Context, usernames []string) ([]domain.User, error) {
	found, err := a.store.GetUsersByUsernames(ctx, usernames)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	byName := make(map[string]domain.User, len(found))
	for _, u := range found {
		byName[u.Username] = u
	}
	out := make([]domain.User, 0, len(usernames))
	for _, name := range usernames {
		u, ok := byName[name]
		if !ok {
			return nil, store.ErrUserNotFound.WithMessage(fmt.Sprintf("user %s not found", name))
		}
		out = append(out, u)
	}
	return out, nil
}

func cleanUsernames(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, name := range in {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, ErrNoMembers
		}
		if _, ok := seen[name]; ok {
			return nil, ErrDuplicateMember
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}
