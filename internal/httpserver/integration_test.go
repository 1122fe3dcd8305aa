package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/adminauth"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/adminhttp"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/httpserver"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/log"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/probe"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/ratelimit"
)

// TestIntegration_FullStack wires up httpserver.NewHandler with a real gate
// backed by an in-memory store, then verifies that security headers, rate
// limit denials, ban enforcement, and the admin API work end-to-end.
func TestIntegration_FullStack(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	policy := ratelimit.Policy{
		RequestsPerMinute: 3,
		RequestsPerHour:   100,
		BanEnabled:        true,
		BanThreshold:      2,
		BanWindow:         time.Hour,
		BanTTL:            24 * time.Hour,
	}
	tracker := ratelimit.NewTracker(store, policy.BanWindow)
	bans := ratelimit.NewBanManager(store, policy.BanTTL)
	gate := ratelimit.NewGate(policy, store, tracker, bans)

	adminAPI := adminhttp.NewAPI(adminhttp.Options{
		Policy:       policy,
		Violations:   tracker,
		Bans:         bans,
		StoreEnabled: func() bool { return true },
		Auth:         adminauth.NewTokenAuthorizer("test-token"),
		Logger:       log.Nop(),
	})

	handler := httpserver.NewHandler(&httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		RateLimitMW:  gate.Middleware,
		APIRoutes: func(r chi.Router) {
			r.Get("/api/ping", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Write([]byte(`{"pong":true}`))
			})
			adminAPI.RegisterRoutes(r)
		},
		Health:    probe.Static(true, ""),
		Readiness: probe.Static(true, ""),
	})

	serve := func(method, path, ip string, mod func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, http.NoBody)
		req.RemoteAddr = ip + ":40000"
		if mod != nil {
			mod(req)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("ping with security headers and request id", func(t *testing.T) {
		rec := serve(http.MethodGet, "/api/ping", "203.0.113.10", nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		for _, hdr := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Cache-Control"} {
			if rec.Header().Get(hdr) == "" {
				t.Errorf("missing security header: %s", hdr)
			}
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Error("X-Request-Id not set")
		}
	})

	t.Run("health endpoints bypass nothing but always answer", func(t *testing.T) {
		for _, path := range []string{"/-/healthy", "/-/ready"} {
			rec := serve(http.MethodGet, path, "203.0.113.11", nil)
			if rec.Code != http.StatusOK {
				t.Errorf("%s status = %d, want 200", path, rec.Code)
			}
		}
	})

	t.Run("over-limit traffic gets 429 then escalates to 403", func(t *testing.T) {
		ip := "203.0.113.20"

		for i := 0; i < 3; i++ {
			if rec := serve(http.MethodGet, "/api/ping", ip, nil); rec.Code != http.StatusOK {
				t.Fatalf("request %d: status %d", i, rec.Code)
			}
		}

		// two violations cross the ban threshold
		for i := 0; i < 2; i++ {
			rec := serve(http.MethodGet, "/api/ping", ip, nil)
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("violation %d: status %d, want 429", i, rec.Code)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After")
			}
		}

		rec := serve(http.MethodGet, "/api/ping", ip, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("post-ban status = %d, want 403", rec.Code)
		}

		// security headers even on denials
		if rec.Header().Get("X-Content-Type-Options") == "" {
			t.Error("denial response missing security headers")
		}
	})

	t.Run("admin API reads state created by the gate", func(t *testing.T) {
		rec := serve(http.MethodGet, "/api/admin/rate-limit/bans", "203.0.113.30", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer test-token")
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Bans []struct {
				Type  string `json:"type"`
				Value string `json:"value"`
			} `json:"bans"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		found := false
		for _, b := range resp.Bans {
			if b.Type == "ip" && b.Value == "203.0.113.20" {
				found = true
			}
		}
		if !found {
			t.Errorf("auto-banned ip missing from admin list: %+v", resp.Bans)
		}
	})

	t.Run("admin API rejects anonymous callers", func(t *testing.T) {
		rec := serve(http.MethodGet, "/api/admin/rate-limit/config", "203.0.113.31", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}

func TestNewServer_Timeouts(t *testing.T) {
	t.Parallel()

	srv := httpserver.NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != httpserver.DefaultReadHeaderTimeout {
		t.Errorf("ReadHeaderTimeout = %s", srv.ReadHeaderTimeout)
	}
	if srv.IdleTimeout != httpserver.DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %s", srv.IdleTimeout)
	}
	if srv.MaxHeaderBytes != httpserver.DefaultMaxHeaderBytes {
		t.Errorf("MaxHeaderBytes = %d", srv.MaxHeaderBytes)
	}
}
