package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBanRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, clk := newTestStore()
	bans := NewBanManager(store, 24*time.Hour)
	id := NewIdentity(KindIP, "203.0.113.9")

	banned, _, err := bans.IsBanned(ctx, id)
	if err != nil || banned {
		t.Fatalf("fresh identity banned=%v err=%v", banned, err)
	}

	if err := bans.Create(ctx, id); err != nil {
		t.Fatalf("Create: %v", err)
	}
	banned, ttl, err := bans.IsBanned(ctx, id)
	if err != nil || !banned {
		t.Fatalf("banned=%v err=%v", banned, err)
	}
	if ttl != 24*time.Hour {
		t.Errorf("ttl = %s, want 24h", ttl)
	}

	clk.Advance(24 * time.Hour)
	banned, _, err = bans.IsBanned(ctx, id)
	if err != nil || banned {
		t.Errorf("ban should have expired, banned=%v err=%v", banned, err)
	}
}

func TestBanCreateIsIdempotentAndRefreshes(t *testing.T) {
	ctx := context.Background()
	store, clk := newTestStore()
	bans := NewBanManager(store, time.Hour)
	id := NewIdentity(KindUser, "u-42")

	if err := bans.Create(ctx, id); err != nil {
		t.Fatal(err)
	}
	clk.Advance(40 * time.Minute)
	if err := bans.Create(ctx, id); err != nil {
		t.Fatal(err)
	}

	_, ttl, err := bans.IsBanned(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if ttl != time.Hour {
		t.Errorf("ttl = %s, want the full 1h after refresh", ttl)
	}

	got, err := bans.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("list = %v, want exactly one record", got)
	}
}

func TestBanNoExpiry(t *testing.T) {
	ctx := context.Background()
	store, clk := newTestStore()
	bans := NewBanManager(store, NoExpiry)
	id := NewIdentity(KindIP, "203.0.113.9")

	if err := bans.Create(ctx, id); err != nil {
		t.Fatal(err)
	}
	clk.Advance(10000 * time.Hour)
	banned, ttl, err := bans.IsBanned(ctx, id)
	if err != nil || !banned {
		t.Fatalf("banned=%v err=%v", banned, err)
	}
	if ttl != NoExpiry {
		t.Errorf("ttl = %v, want NoExpiry", ttl)
	}
}

func TestBanDeleteLeavesViolations(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	bans := NewBanManager(store, time.Hour)
	tracker := NewTracker(store, time.Hour)
	id := NewIdentity(KindIP, "203.0.113.9")

	if _, err := tracker.Record(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := bans.Create(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := bans.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	banned, _, _ := bans.IsBanned(ctx, id)
	if banned {
		t.Error("still banned after delete")
	}
	n, _, ok, _ := tracker.Get(ctx, id)
	if !ok || n != 1 {
		t.Errorf("violation record must survive ban removal, n=%d ok=%v", n, ok)
	}
}

func TestBanListDropsExpired(t *testing.T) {
	ctx := context.Background()
	store, clk := newTestStore()
	bans := NewBanManager(store, time.Hour)

	a := NewIdentity(KindIP, "203.0.113.9")
	b := NewIdentity(KindUser, "u-42")

	if err := bans.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	clk.Advance(30 * time.Minute)
	if err := bans.Create(ctx, b); err != nil {
		t.Fatal(err)
	}
	clk.Advance(45 * time.Minute)

	got, err := bans.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Identity.Key() != "user:u-42" {
		t.Errorf("list = %v, expired ban must never show active", got)
	}
	if got[0].TTL != 15*time.Minute {
		t.Errorf("ttl = %s, want 15m", got[0].TTL)
	}

	// the expired entry was reconciled out of the index for good
	members, _ := store.IndexMembers(ctx, banIndexKey)
	if len(members) != 1 {
		t.Errorf("index = %v", members)
	}
}
