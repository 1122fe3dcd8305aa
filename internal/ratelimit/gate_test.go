package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/httpmw"
)

func testPolicy() Policy {
	return Policy{
		RequestsPerMinute: 5,
		RequestsPerHour:   100,
		BanEnabled:        true,
		BanThreshold:      3,
		BanWindow:         time.Hour,
		BanTTL:            24 * time.Hour,
	}
}

type gateFixture struct {
	store   *MemoryStore
	clk     *fakeClock
	tracker *Tracker
	bans    *BanManager
	gate    *Gate
}

func newGateFixture(t *testing.T, policy Policy, opts ...Option) *gateFixture {
	t.Helper()
	store, clk := newTestStore()
	tracker := NewTracker(store, policy.BanWindow)
	bans := NewBanManager(store, policy.BanTTL)
	return &gateFixture{
		store:   store,
		clk:     clk,
		tracker: tracker,
		bans:    bans,
		gate:    NewGate(policy, store, tracker, bans, opts...),
	}
}

func ipCtx(ip string) context.Context {
	return httpmw.WithClientIP(context.Background(), ip)
}

func TestGateAllowsUpToLimitThenDenies(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	ctx := ipCtx("203.0.113.9")

	for i := 1; i <= 5; i++ {
		d := f.gate.Check(ctx)
		if !d.Allowed {
			t.Fatalf("request %d denied: %+v", i, d)
		}
	}

	d := f.gate.Check(ctx)
	if d.Allowed {
		t.Fatal("request over the minute limit was allowed")
	}
	if d.Reason != DenyLimitExceeded {
		t.Errorf("reason = %s", d.Reason)
	}
	if d.Identity.Key() != "ip:203.0.113.9" {
		t.Errorf("identity = %s", d.Identity)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("retry after = %s, want within (0, 1m]", d.RetryAfter)
	}
}

func TestGateWindowReset(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	ctx := ipCtx("203.0.113.9")

	for i := 0; i < 6; i++ {
		f.gate.Check(ctx)
	}
	if d := f.gate.Check(ctx); d.Allowed {
		t.Fatal("still inside the window, should deny")
	}

	f.clk.Advance(time.Minute + time.Second)
	if d := f.gate.Check(ctx); !d.Allowed {
		t.Fatalf("fresh window should allow: %+v", d)
	}
}

func TestGateHourWindow(t *testing.T) {
	p := testPolicy()
	p.RequestsPerMinute = 100
	p.RequestsPerHour = 3
	f := newGateFixture(t, p)
	ctx := ipCtx("203.0.113.9")

	for i := 1; i <= 3; i++ {
		if d := f.gate.Check(ctx); !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	d := f.gate.Check(ctx)
	if d.Allowed {
		t.Fatal("hour limit not enforced")
	}
	if d.RetryAfter <= time.Minute || d.RetryAfter > time.Hour {
		t.Errorf("retry after = %s, want the hour window remainder", d.RetryAfter)
	}
}

func TestGateEscalatesToBan(t *testing.T) {
	var banCreated int
	f := newGateFixture(t, testPolicy(), WithOnBanCreated(func(Identity) { banCreated++ }))
	ctx := ipCtx("203.0.113.9")
	id := NewIdentity(KindIP, "203.0.113.9")

	// burn the minute budget
	for i := 0; i < 5; i++ {
		f.gate.Check(ctx)
	}

	// each denied request is one violation; the 3rd crosses the threshold
	for i := 1; i <= 2; i++ {
		d := f.gate.Check(ctx)
		if d.Allowed || d.Reason != DenyLimitExceeded {
			t.Fatalf("violation %d: %+v", i, d)
		}
	}
	d := f.gate.Check(ctx)
	if d.Allowed || d.Reason != DenyLimitExceeded {
		t.Fatalf("threshold-crossing request: %+v", d)
	}

	banned, ttl, err := f.bans.IsBanned(context.Background(), id)
	if err != nil || !banned {
		t.Fatalf("banned=%v err=%v", banned, err)
	}
	if ttl != 24*time.Hour {
		t.Errorf("ban ttl = %s", ttl)
	}
	if banCreated != 1 {
		t.Errorf("onBanCreated fired %d times, want 1", banCreated)
	}

	// subsequent requests are hard-denied before any counting
	d = f.gate.Check(ctx)
	if d.Allowed || d.Reason != DenyBanned {
		t.Fatalf("post-ban check: %+v", d)
	}

	// continued traffic must not re-arm the ban or create duplicates
	f.clk.Advance(time.Hour)
	f.gate.Check(ctx)
	_, ttl, _ = f.bans.IsBanned(context.Background(), id)
	if ttl != 23*time.Hour {
		t.Errorf("ban ttl after more traffic = %s, want 23h", ttl)
	}
	if banCreated != 1 {
		t.Errorf("onBanCreated fired %d times after more traffic", banCreated)
	}
}

func TestGateBannedIdentityDoesNotAccrueCounts(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	ctx := ipCtx("203.0.113.9")
	id := NewIdentity(KindIP, "203.0.113.9")

	if err := f.bans.Create(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	d := f.gate.Check(ctx)
	if d.Allowed || d.Reason != DenyBanned {
		t.Fatalf("manual ban not enforced: %+v", d)
	}

	n, _, ok, err := f.store.GetCount(context.Background(), counterKey(id, WindowMinute))
	if err != nil {
		t.Fatal(err)
	}
	if ok && n != 0 {
		t.Errorf("banned request was counted: %d", n)
	}
}

func TestGateUnbanThenImmediateReban(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	ctx := ipCtx("203.0.113.9")
	id := NewIdentity(KindIP, "203.0.113.9")

	for i := 0; i < 8; i++ { // 5 allowed + 3 violations -> ban
		f.gate.Check(ctx)
	}
	if banned, _, _ := f.bans.IsBanned(context.Background(), id); !banned {
		t.Fatal("expected auto-ban")
	}

	// admin lifts the ban but leaves the violation count at threshold
	if err := f.bans.Delete(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	// next violation re-bans immediately
	d := f.gate.Check(ctx)
	if d.Allowed {
		t.Fatalf("still over limit, should deny: %+v", d)
	}
	if banned, _, _ := f.bans.IsBanned(context.Background(), id); !banned {
		t.Error("violation above threshold after unban must re-ban")
	}
}

func TestGateBansDisabled(t *testing.T) {
	p := testPolicy()
	p.BanEnabled = false
	f := newGateFixture(t, p)
	ctx := ipCtx("203.0.113.9")
	id := NewIdentity(KindIP, "203.0.113.9")

	for i := 0; i < 20; i++ {
		f.gate.Check(ctx)
	}
	if banned, _, _ := f.bans.IsBanned(context.Background(), id); banned {
		t.Error("ban created while bans disabled")
	}
	// violations still accrue for visibility
	n, _, ok, _ := f.tracker.Get(context.Background(), id)
	if !ok || n != 15 {
		t.Errorf("violations = %d ok=%v, want 15", n, ok)
	}
}

func TestGateCountsBothIdentities(t *testing.T) {
	p := testPolicy()
	p.RequestsPerMinute = 3
	f := newGateFixture(t, p)

	user := NewIdentity(KindUser, "u-42")

	// the user identity accrues across different source IPs
	for i := 0; i < 3; i++ {
		ctx := httpmw.WithUserID(ipCtx("203.0.113."+strconv.Itoa(i)), "u-42")
		if d := f.gate.Check(ctx); !d.Allowed {
			t.Fatalf("request %d denied: %+v", i, d)
		}
	}

	ctx := httpmw.WithUserID(ipCtx("203.0.113.99"), "u-42")
	d := f.gate.Check(ctx)
	if d.Allowed {
		t.Fatal("user identity limit not enforced across IPs")
	}
	if d.Identity != user {
		t.Errorf("denied identity = %v, want %v", d.Identity, user)
	}

	// the fresh IP was still counted on the denied request
	n, _, ok, _ := f.store.GetCount(context.Background(), counterKey(NewIdentity(KindIP, "203.0.113.99"), WindowMinute))
	if !ok || n != 1 {
		t.Errorf("ip counter = %d ok=%v, want 1", n, ok)
	}
}

// brokenStore fails every round trip, standing in for an unreachable
// backend.
type brokenStore struct{}

func (brokenStore) fail() error { return errors.Join(ErrStoreUnavailable, errors.New("refused")) }

func (s brokenStore) IncrWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, s.fail()
}
func (s brokenStore) IncrRearm(context.Context, string, time.Duration) (int64, error) {
	return 0, s.fail()
}
func (s brokenStore) GetCount(context.Context, string) (int64, time.Duration, bool, error) {
	return 0, 0, false, s.fail()
}
func (s brokenStore) SetFlag(context.Context, string, time.Duration) error { return s.fail() }
func (s brokenStore) FlagTTL(context.Context, string) (time.Duration, bool, error) {
	return 0, false, s.fail()
}
func (s brokenStore) Delete(context.Context, string) error { return s.fail() }
func (s brokenStore) IndexAdd(context.Context, string, string) error {
	return s.fail()
}
func (s brokenStore) IndexRemove(context.Context, string, string) error {
	return s.fail()
}
func (s brokenStore) IndexMembers(context.Context, string) ([]string, error) {
	return nil, s.fail()
}
func (s brokenStore) Ping(context.Context) error { return s.fail() }

func TestGateFailOpen(t *testing.T) {
	var storeErrs int
	store := brokenStore{}
	gate := NewGate(testPolicy(), store, NewTracker(store, time.Hour), NewBanManager(store, time.Hour),
		WithOnStoreError(func() { storeErrs++ }))

	for i := 0; i < 3; i++ {
		if d := gate.Check(ipCtx("203.0.113.9")); !d.Allowed {
			t.Fatalf("fail-open must allow: %+v", d)
		}
	}
	if storeErrs != 3 {
		t.Errorf("onStoreError fired %d times, want 3", storeErrs)
	}
}

func TestGateFailClosed(t *testing.T) {
	store := brokenStore{}
	gate := NewGate(testPolicy(), store, NewTracker(store, time.Hour), NewBanManager(store, time.Hour),
		WithFailClosed(true))

	d := gate.Check(ipCtx("203.0.113.9"))
	if d.Allowed {
		t.Fatal("fail-closed must deny")
	}
	if d.Reason != DenyLimitExceeded {
		t.Errorf("reason = %s, store errors must not leak a distinct reason", d.Reason)
	}
	if d.RetryAfter != 30*time.Second {
		t.Errorf("retry after = %s", d.RetryAfter)
	}
}

func TestGateOnDeniedHook(t *testing.T) {
	var denials []DenyReason
	f := newGateFixture(t, testPolicy(), WithOnDenied(func(_ Identity, r DenyReason) {
		denials = append(denials, r)
	}))
	ctx := ipCtx("203.0.113.9")

	for i := 0; i < 6; i++ {
		f.gate.Check(ctx)
	}
	if len(denials) != 1 || denials[0] != DenyLimitExceeded {
		t.Errorf("denials = %v", denials)
	}
}

func TestGateMiddleware(t *testing.T) {
	f := newGateFixture(t, testPolicy())
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := f.gate.Middleware(next)

	serve := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/thing", nil)
		req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 5; i++ {
		if rec := serve("203.0.113.9"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}

	rec := serve("203.0.113.9")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || secs < 1 || secs > 60 {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["error"] != "too many requests" {
		t.Errorf("body = %v", body)
	}

	// a different client is unaffected
	if rec := serve("198.51.100.7"); rec.Code != http.StatusOK {
		t.Errorf("independent client got %d", rec.Code)
	}

	// banned clients get a hard 403 with no TTL detail
	if err := f.bans.Create(context.Background(), NewIdentity(KindIP, "203.0.113.50")); err != nil {
		t.Fatal(err)
	}
	rec = serve("203.0.113.50")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["error"] != "forbidden" || len(body) != 1 {
		t.Errorf("body = %v", body)
	}
}
