package ratelimit

import (
	"context"
	"time"
)

const (
	violPrefix   = "viol:"
	violIndexKey = "viol:index"
)

// Violation is one identity's live violation record, as reported to the
// admin API. A record with Count 0 is a stale index entry whose underlying
// TTL'd record has already expired; the cleanup sweep removes those.
type Violation struct {
	Identity Identity
	Count    int64
	TTL      time.Duration
}

// Tracker counts, per identity, how many times limits were exceeded within
// a rolling window. Each new violation re-arms the record's expiry, so an
// offender that keeps violating never falls out of the window.
type Tracker struct {
	store  Store
	window time.Duration
}

func NewTracker(store Store, window time.Duration) *Tracker {
	return &Tracker{store: store, window: window}
}

func violKey(id Identity) string { return violPrefix + id.Key() }

// Record increments the identity's violation count, resets its expiry to
// the full window, and registers the identity in the violator index.
// Returns the new count.
func (t *Tracker) Record(ctx context.Context, id Identity) (int64, error) {
	n, err := t.store.IncrRearm(ctx, violKey(id), t.window)
	if err != nil {
		return 0, err
	}
	// index update is best-effort ordering-wise: the record is the source
	// of truth, the index only drives admin listings
	if err := t.store.IndexAdd(ctx, violIndexKey, id.Key()); err != nil {
		return n, err
	}
	return n, nil
}

// Get returns the identity's current violation count and remaining window.
// ok is false when no live record exists.
func (t *Tracker) Get(ctx context.Context, id Identity) (count int64, ttl time.Duration, ok bool, err error) {
	return t.store.GetCount(ctx, violKey(id))
}

// List returns one entry per indexed violator. Identities whose record has
// expired under the index still appear with Count 0 until CleanupExpired
// reconciles the index.
func (t *Tracker) List(ctx context.Context) ([]Violation, error) {
	members, err := t.store.IndexMembers(ctx, violIndexKey)
	if err != nil {
		return nil, err
	}

	out := make([]Violation, 0, len(members))
	for _, m := range members {
		id, ok := identityFromKey(m)
		if !ok {
			continue
		}
		n, ttl, live, err := t.store.GetCount(ctx, violKey(id))
		if err != nil {
			return nil, err
		}
		if !live {
			out = append(out, Violation{Identity: id})
			continue
		}
		out = append(out, Violation{Identity: id, Count: n, TTL: ttl})
	}
	return out, nil
}

// Clear removes the identity's violation record and its index entry.
func (t *Tracker) Clear(ctx context.Context, id Identity) error {
	if err := t.store.Delete(ctx, violKey(id)); err != nil {
		return err
	}
	return t.store.IndexRemove(ctx, violIndexKey, id.Key())
}

// CleanupExpired sweeps index entries whose underlying record has expired.
// TTL expiry is not an event the index observes, so the two drift; this is
// the explicit reconciliation. Returns how many entries were removed.
func (t *Tracker) CleanupExpired(ctx context.Context) (int, error) {
	members, err := t.store.IndexMembers(ctx, violIndexKey)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, m := range members {
		id, ok := identityFromKey(m)
		if !ok {
			// unparseable member, drop it from the index
			if err := t.store.IndexRemove(ctx, violIndexKey, m); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		_, _, live, err := t.store.GetCount(ctx, violKey(id))
		if err != nil {
			return removed, err
		}
		if live {
			continue
		}
		if err := t.store.IndexRemove(ctx, violIndexKey, m); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// identityFromKey parses an index member back into an Identity, e.g.
// "ip:203.0.113.9".
func identityFromKey(key string) (Identity, bool) {
	for _, kind := range []Kind{KindIP, KindUser} {
		prefix := string(kind) + ":"
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			return Identity{Kind: kind, Value: key[len(prefix):]}, true
		}
	}
	return Identity{}, false
}
