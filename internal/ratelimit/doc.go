// Package ratelimit implements the abuse-mitigation gate: per-identity
// request counting over fixed minute/hour windows, violation tracking with a
// sliding re-arm window, and escalation of repeat offenders to temporary
// bans.
//
// Counters, violations, and bans live in a shared atomic key-value store
// (Redis in production, in-memory for single-instance deployments and
// tests), so the gate itself is stateless and safe to run in any number of
// horizontally scaled instances. Correctness depends on the store's
// increment-with-expiry operations being a single atomic round trip; see
// Store.
//
// Key namespaces: "rl:" window counters, "viol:" violation records,
// "ban:" ban records. Secondary index sets ("viol:index", "ban:index")
// make violators and bans enumerable for the admin API.
package ratelimit
