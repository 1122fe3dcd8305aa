package ratelimit

import (
	"context"
	"time"
)

const (
	banPrefix   = "ban:"
	banIndexKey = "ban:index"
)

// Ban is an active ban as reported to the admin API. TTL is the remaining
// lifetime, or NoExpiry for bans that persist until deleted.
type Ban struct {
	Identity Identity
	TTL      time.Duration
}

// BanManager owns ban records. Bans are created automatically by the gate
// when an identity's violation count crosses the threshold, or manually by
// an admin; both use the configured TTL.
type BanManager struct {
	store Store
	ttl   time.Duration
}

func NewBanManager(store Store, ttl time.Duration) *BanManager {
	return &BanManager{store: store, ttl: ttl}
}

func banKey(id Identity) string { return banPrefix + id.Key() }

// IsBanned reports whether the identity has a live ban, and its remaining
// TTL (NoExpiry for permanent bans).
func (b *BanManager) IsBanned(ctx context.Context, id Identity) (bool, time.Duration, error) {
	ttl, ok, err := b.store.FlagTTL(ctx, banKey(id))
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, 0, nil
	}
	return true, ttl, nil
}

// Create writes (or refreshes) the identity's ban with the configured TTL.
// Calling it on an already-banned identity resets the clock to the full
// TTL; there is never more than one ban record per identity.
func (b *BanManager) Create(ctx context.Context, id Identity) error {
	ttl := b.ttl
	if ttl == NoExpiry {
		ttl = 0 // stores treat <= 0 as no expiry
	}
	if err := b.store.SetFlag(ctx, banKey(id), ttl); err != nil {
		return err
	}
	return b.store.IndexAdd(ctx, banIndexKey, id.Key())
}

// Delete removes the identity's ban. The violation record is intentionally
// left in place: an unbanned offender whose count still exceeds the
// threshold is re-banned on their very next violation. Admins wanting a
// clean slate must clear violations separately.
func (b *BanManager) Delete(ctx context.Context, id Identity) error {
	if err := b.store.Delete(ctx, banKey(id)); err != nil {
		return err
	}
	return b.store.IndexRemove(ctx, banIndexKey, id.Key())
}

// List returns the currently active bans. Index entries whose ban has
// expired are dropped from the index as they are encountered, so expired
// bans never show as active.
func (b *BanManager) List(ctx context.Context) ([]Ban, error) {
	members, err := b.store.IndexMembers(ctx, banIndexKey)
	if err != nil {
		return nil, err
	}

	out := make([]Ban, 0, len(members))
	for _, m := range members {
		id, ok := identityFromKey(m)
		if !ok {
			continue
		}
		ttl, live, err := b.store.FlagTTL(ctx, banKey(id))
		if err != nil {
			return nil, err
		}
		if !live {
			// lazy reconciliation, mirrors the violation cleanup sweep
			_ = b.store.IndexRemove(ctx, banIndexKey, m)
			continue
		}
		out = append(out, Ban{Identity: id, TTL: ttl})
	}
	return out, nil
}
