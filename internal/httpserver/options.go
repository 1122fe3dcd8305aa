package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/httpmw"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/log"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()

	// MetricsMW instruments requests for prometheus.
	MetricsMW func(http.Handler) http.Handler

	// RateLimitMW is the gate; it runs after client IP resolution and
	// before routing so every API request is checked.
	RateLimitMW func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	// APIRoutes mounts the application and admin routes on the router.
	APIRoutes func(chi.Router)

	Health    probe.Probe
	Readiness probe.Probe
}
