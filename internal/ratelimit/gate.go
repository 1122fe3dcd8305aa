package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/log"
)

// DenyReason says why a request was rejected.
type DenyReason string

const (
	DenyLimitExceeded DenyReason = "limit_exceeded" // soft, retryable, 429
	DenyBanned        DenyReason = "banned"         // hard, 403
)

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed  bool
	Reason   DenyReason
	Identity Identity

	// RetryAfter is the remaining window time for limit denials.
	RetryAfter time.Duration

	// BanTTL is the remaining ban lifetime for ban denials (NoExpiry for
	// permanent bans).
	BanTTL time.Duration
}

var allowAll = Decision{Allowed: true}

// Gate is the per-request entry point. It is stateless: every decision is
// computed against the shared store, so any number of instances behave as
// one limiter.
type Gate struct {
	policy     Policy
	counters   *Counters
	violations *Tracker
	bans       *BanManager

	failClosed bool

	// alertEvery throttles the store-unavailable operational log so an
	// outage does not flood it; every failure still counts in metrics via
	// onStoreError.
	alertEvery *rate.Limiter

	onCheck      func()
	onDenied     func(id Identity, reason DenyReason)
	onViolation  func(id Identity, count int64)
	onBanCreated func(id Identity)
	onStoreError func()
}

type Option func(*Gate)

// WithFailClosed makes the gate deny all traffic while the store is
// unreachable. The default is fail-open: allow, skip violation/ban logic,
// and log an operational alert.
func WithFailClosed(closed bool) Option {
	return func(g *Gate) { g.failClosed = closed }
}

// WithOnCheck sets a callback for every gate evaluation, used for metrics.
func WithOnCheck(fn func()) Option {
	return func(g *Gate) { g.onCheck = fn }
}

// WithOnDenied sets a callback for every denied request, used for metrics.
func WithOnDenied(fn func(id Identity, reason DenyReason)) Option {
	return func(g *Gate) { g.onDenied = fn }
}

// WithOnViolation sets a callback for every recorded violation.
func WithOnViolation(fn func(id Identity, count int64)) Option {
	return func(g *Gate) { g.onViolation = fn }
}

// WithOnBanCreated sets a callback for automatic ban escalations.
func WithOnBanCreated(fn func(id Identity)) Option {
	return func(g *Gate) { g.onBanCreated = fn }
}

// WithOnStoreError sets a callback for every failed store round trip.
func WithOnStoreError(fn func()) Option {
	return func(g *Gate) { g.onStoreError = fn }
}

func NewGate(policy Policy, store Store, violations *Tracker, bans *BanManager, opts ...Option) *Gate {
	g := &Gate{
		policy:     policy,
		counters:   NewCounters(store),
		violations: violations,
		bans:       bans,
		// one alert burst per 30s per process
		alertEvery: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check runs the full gate algorithm for the request identities carried in
// ctx: ban check first, then minute and hour counters for every identity,
// violation recording and ban escalation on exceed. Any hit blocks.
func (g *Gate) Check(ctx context.Context) Decision {
	if g.onCheck != nil {
		g.onCheck()
	}
	ids := ClassifyContext(ctx)

	// Ban check before any counting: banned identities do not accrue
	// window counts.
	for _, id := range ids {
		banned, ttl, err := g.bans.IsBanned(ctx, id)
		if err != nil {
			return g.storeFailure(ctx, err)
		}
		if banned {
			return g.deny(Decision{Reason: DenyBanned, Identity: id, BanTTL: ttl})
		}
	}

	// Count every identity against every window even after a denial is
	// found, so counters stay exact for all subjects of the request.
	var denied *Decision
	for _, id := range ids {
		exceeded := false
		for _, w := range Windows {
			_, allowed, remaining, err := g.counters.IncrementAndCheck(ctx, id, w, g.policy.Limit(w))
			if err != nil {
				return g.storeFailure(ctx, err)
			}
			if allowed {
				continue
			}
			exceeded = true
			if denied == nil {
				denied = &Decision{Reason: DenyLimitExceeded, Identity: id, RetryAfter: remaining}
			}
		}
		if !exceeded {
			continue
		}
		if d := g.escalate(ctx, id); d != nil {
			return g.deny(*d)
		}
	}

	if denied != nil {
		return g.deny(*denied)
	}
	return allowAll
}

// escalate records a violation for id and auto-bans once the count crosses
// the threshold. Returns a non-nil store-failure decision when the backend
// went away mid-flight.
func (g *Gate) escalate(ctx context.Context, id Identity) *Decision {
	count, err := g.violations.Record(ctx, id)
	if err != nil {
		d := g.storeFailure(ctx, err)
		return &d
	}
	if g.onViolation != nil {
		g.onViolation(id, count)
	}

	if !g.policy.BanEnabled || count < int64(g.policy.BanThreshold) {
		return nil
	}

	// Threshold crossed. Create only if no ban exists yet so repeated
	// violations at or above the threshold do not keep re-arming the ban.
	banned, _, err := g.bans.IsBanned(ctx, id)
	if err != nil {
		d := g.storeFailure(ctx, err)
		return &d
	}
	if banned {
		return nil
	}
	if err := g.bans.Create(ctx, id); err != nil {
		d := g.storeFailure(ctx, err)
		return &d
	}

	log.FromContext(ctx).Warn(ctx, "identity auto-banned",
		"identity", id.Key(),
		"violations", count,
		"ban_ttl", g.policy.BanTTL.String(),
	)
	if g.onBanCreated != nil {
		g.onBanCreated(id)
	}
	return nil
}

// storeFailure applies the configured fallback for an unreachable store.
func (g *Gate) storeFailure(ctx context.Context, err error) Decision {
	if g.onStoreError != nil {
		g.onStoreError()
	}
	if g.alertEvery.Allow() {
		log.FromContext(ctx).Error(ctx, err, "rate limit store unreachable",
			"fail_mode", map[bool]string{true: "closed", false: "open"}[g.failClosed],
		)
	}

	if !g.failClosed {
		// fail-open: allow, violation/ban logic skipped for this request
		return allowAll
	}
	// fail-closed: shed load with a short retry hint; clients never see a
	// distinct store error
	return g.deny(Decision{Reason: DenyLimitExceeded, RetryAfter: 30 * time.Second})
}

func (g *Gate) deny(d Decision) Decision {
	d.Allowed = false
	if g.onDenied != nil {
		g.onDenied(d.Identity, d.Reason)
	}
	return d
}

// IsStoreUnavailable reports whether err came from an unreachable backend.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Middleware translates gate decisions for HTTP callers: 429 with a
// Retry-After header for limit denials, 403 for bans.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Check(r.Context())
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		switch d.Reason {
		case DenyBanned:
			w.WriteHeader(http.StatusForbidden)
			// intentionally no TTL detail for the banned party
			w.Write([]byte(`{"error":"forbidden"}`))
		default:
			secs := int(d.RetryAfter.Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
		}
	})
}
