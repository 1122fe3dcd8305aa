// Package adminhttp exposes the rate-limit admin API: policy/config
// visibility, ban and violator listings, manual ban management, and the
// violation index cleanup sweep. Every route is wrapped by the admin
// authorization middleware before any gate state is touched.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/adminauth"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/log"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/ratelimit"
)

type Options struct {
	Policy     ratelimit.Policy
	Violations *ratelimit.Tracker
	Bans       *ratelimit.BanManager

	// StoreEnabled reports current backend reachability, refreshed by the
	// health checker rather than per request.
	StoreEnabled func() bool

	Auth   adminauth.Authorizer
	Logger log.Logger

	// metrics hooks, optional
	OnBanCreated        func()
	OnViolationsCleaned func(removed int)
}

type API struct {
	opts Options
}

func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.StoreEnabled == nil {
		opts.StoreEnabled = func() bool { return false }
	}
	return &API{opts: opts}
}

// RegisterRoutes attaches the admin endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin/rate-limit", func(r chi.Router) {
		r.Use(adminauth.Require(api.opts.Auth))
		r.Get("/config", api.handleConfig)
		r.Get("/bans", api.handleListBans)
		r.Get("/violations", api.handleListViolations)
		r.Post("/bans/{kind}/{value}", api.handleCreateBan)
		r.Delete("/bans/{kind}/{value}", api.handleDeleteBan)
		r.Post("/violations/cleanup", api.handleCleanup)
	})
}

type policyResponse struct {
	RequestsPerMinute int  `json:"requests_per_minute"`
	RequestsPerHour   int  `json:"requests_per_hour"`
	BanEnabled        bool `json:"ban_enabled"`
	BanThreshold      int  `json:"ban_threshold"`
	BanWindowSeconds  int  `json:"ban_window_seconds"`
	BanTTLSeconds     int  `json:"ban_ttl_seconds"`
}

type configResponse struct {
	RedisEnabled bool           `json:"redis_enabled"`
	RateLimit    policyResponse `json:"rate_limit"`
}

type banEntry struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	TTL   int64  `json:"ttl"`
}

type violationEntry struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Count int64  `json:"count"`
	TTL   int64  `json:"ttl"`
}

// ttlSeconds reports a TTL in whole seconds remaining, -1 for no expiry.
func ttlSeconds(d time.Duration) int64 {
	if d == ratelimit.NoExpiry {
		return -1
	}
	return int64(d / time.Second)
}

func (api *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	p := api.opts.Policy
	resp := configResponse{
		RedisEnabled: api.opts.StoreEnabled(),
		RateLimit: policyResponse{
			RequestsPerMinute: p.RequestsPerMinute,
			RequestsPerHour:   p.RequestsPerHour,
			BanEnabled:        p.BanEnabled,
			BanThreshold:      p.BanThreshold,
			BanWindowSeconds:  int(p.BanWindow / time.Second),
			BanTTLSeconds:     int(ttlSeconds(p.BanTTL)),
		},
	}
	api.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (api *API) handleListBans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bans, err := api.opts.Bans.List(ctx)
	if err != nil {
		api.storeError(ctx, w, err, "list bans")
		return
	}

	entries := make([]banEntry, 0, len(bans))
	for _, b := range bans {
		entries = append(entries, banEntry{
			Type:  string(b.Identity.Kind),
			Value: b.Identity.Value,
			TTL:   ttlSeconds(b.TTL),
		})
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"enabled": api.opts.Policy.BanEnabled,
		"bans":    entries,
	})
}

func (api *API) handleListViolations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	violations, err := api.opts.Violations.List(ctx)
	if err != nil {
		api.storeError(ctx, w, err, "list violations")
		return
	}

	entries := make([]violationEntry, 0, len(violations))
	for _, v := range violations {
		entries = append(entries, violationEntry{
			Type:  string(v.Identity.Kind),
			Value: v.Identity.Value,
			Count: v.Count,
			TTL:   ttlSeconds(v.TTL),
		})
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"enabled":    api.opts.Policy.BanEnabled,
		"violations": entries,
	})
}

// identityFromPath parses and validates {kind}/{value} route params.
func identityFromPath(r *http.Request) (ratelimit.Identity, bool) {
	kind, err := ratelimit.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return ratelimit.Identity{}, false
	}
	id := ratelimit.NewIdentity(kind, chi.URLParam(r, "value"))
	if id.Value == "" {
		return ratelimit.Identity{}, false
	}
	return id, true
}

func (api *API) handleCreateBan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := identityFromPath(r)
	if !ok {
		api.writeJSON(ctx, w, http.StatusBadRequest, map[string]any{"error": "kind must be ip or user and value must be non-empty"})
		return
	}

	// always the configured TTL; the endpoint takes no caller duration
	if err := api.opts.Bans.Create(ctx, id); err != nil {
		api.storeError(ctx, w, err, "create ban")
		return
	}

	api.opts.Logger.Info(ctx, "manual ban created", "identity", id.Key())
	if api.opts.OnBanCreated != nil {
		api.opts.OnBanCreated()
	}
	api.writeJSON(ctx, w, http.StatusOK, banEntry{
		Type:  string(id.Kind),
		Value: id.Value,
		TTL:   ttlSeconds(api.opts.Policy.BanTTL),
	})
}

func (api *API) handleDeleteBan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := identityFromPath(r)
	if !ok {
		api.writeJSON(ctx, w, http.StatusBadRequest, map[string]any{"error": "kind must be ip or user and value must be non-empty"})
		return
	}

	// removing the ban leaves any violation record in place; the next
	// violation of an over-threshold offender re-bans them
	if err := api.opts.Bans.Delete(ctx, id); err != nil {
		api.storeError(ctx, w, err, "delete ban")
		return
	}

	api.opts.Logger.Info(ctx, "ban removed", "identity", id.Key())
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"ok": true})
}

func (api *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	removed, err := api.opts.Violations.CleanupExpired(ctx)
	if err != nil {
		api.storeError(ctx, w, err, "violation cleanup")
		return
	}

	api.opts.Logger.Info(ctx, "violation index cleanup", "removed", removed)
	if api.opts.OnViolationsCleaned != nil {
		api.opts.OnViolationsCleaned(removed)
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"removed": removed})
}

func (api *API) storeError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	api.opts.Logger.Error(ctx, err, "admin API store operation failed", "op", op)
	api.writeJSON(ctx, w, http.StatusServiceUnavailable, map[string]any{"error": "store unavailable"})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.opts.Logger.Error(ctx, err, "encode admin response")
	}
}
