package ratelimit

import (
	"time"

	"ransomhub/pkg/apperr"
)

const (
	DefaultBlockCooldown = 600 * time.Second
	DefaultMaxBlocks     = 5
)

var (
	ErrBlockCooldown = apperr.RateLimited("block_cooldown", "you need to wait before blocking or unblocking again")
	ErrBlockLimit    = apperr.RateLimited("block_limit", "maximum number of active blocks reached, unblock someone first")
)

// ActionState is the per-user state the cooldown policy reads.
type ActionState struct {
	LastActionAt *time.Time
	ActionCount  int
}

// CooldownPolicy gates block and unblock actions. The counter has no time
// window: it grows on each new block and shrinks on each unblock.
type CooldownPolicy struct {
	Cooldown  time.Duration
	MaxBlocks int
}

// DefaultCooldownPolicy returns the production policy.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{Cooldown: DefaultBlockCooldown, MaxBlocks: DefaultMaxBlocks}
}

// CheckBlock rejects a block inside the cooldown or once the counter hits the cap.
func (p CooldownPolicy) CheckBlock(state ActionState, now time.Time) error {
	if err := p.CheckUnblock(state, now); err != nil {
		return err
	}
	if p.MaxBlocks > 0 && state.ActionCount >= p.MaxBlocks {
		return ErrBlockLimit
	}
	return nil
}

// CheckUnblock rejects an unblock inside the cooldown.
func (p CooldownPolicy) CheckUnblock(state ActionState, now time.Time) error {
	if state.LastActionAt == nil || p.Cooldown <= 0 {
		return nil
	}
	if now.Sub(*state.LastActionAt) < p.Cooldown {
		return ErrBlockCooldown
	}
	return nil
}
