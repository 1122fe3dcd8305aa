package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/adminauth"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/adminhttp"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/cfg"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/httpmw"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/httpserver"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/log"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/metrics"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/opshttp"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/otelx"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/policyssm"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/probe"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/prof"
	"github.com/pattcore/faceit-ai-bot-sub000/internal/ratelimit"
	v "github.com/pattcore/faceit-ai-bot-sub000/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix FAB_
	cfg.FillFromEnv(flag.CommandLine, "FAB_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// Policy overrides from SSM land on top of flag/env values, then the
	// merged config is validated once.
	if conf.PolicySSMParam != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "aws config error:", err)
			os.Exit(1)
		}
		overrides, err := policyssm.Load(ctx, ssm.NewFromConfig(awsCfg), conf.PolicySSMParam)
		if err != nil {
			fmt.Fprintln(os.Stderr, "policy override load error:", err)
			os.Exit(1)
		}
		overrides.Apply(&conf)
	}

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Version:    v.Version,
		Commit:     v.Commit,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"redis_addr", conf.RedisAddr,
		"requests_per_minute", conf.RequestsPerMinute,
		"requests_per_hour", conf.RequestsPerHour,
		"ban_enabled", conf.BanEnabled,
		"ban_threshold", conf.BanThreshold,
		"store_fail_mode", conf.StoreFailMode,
		"policy_ssm_param", conf.PolicySSMParam,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// Rate limit store: Redis when configured, otherwise process-local
	// memory (limits then apply per instance).
	var store ratelimit.Store
	if conf.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		store = ratelimit.NewRedisStore(client)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := store.Ping(pingCtx); err != nil {
			L.Warn(ctx, "redis unreachable at startup, gate runs in fail mode until it recovers",
				"redis_addr", conf.RedisAddr,
				"fail_mode", conf.StoreFailMode,
				"error", err.Error(),
			)
		}
		cancel()
	} else {
		store = ratelimit.NewMemoryStore()
		L.Warn(ctx, "no redis configured, using in-memory rate limit store (per-instance limits)")
	}

	// storeUp is refreshed by a background health ticker; the admin API and
	// readiness probe read it instead of pinging per request.
	var storeUp atomic.Bool
	checkStore := func(cctx context.Context) bool {
		pctx, cancel := context.WithTimeout(cctx, 2*time.Second)
		defer cancel()
		up := store.Ping(pctx) == nil
		storeUp.Store(up)
		m.SetStoreUp(up)
		return up
	}
	checkStore(ctx)
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				checkStore(ctx)
			}
		}
	}()

	policy := ratelimit.Policy{
		RequestsPerMinute: conf.RequestsPerMinute,
		RequestsPerHour:   conf.RequestsPerHour,
		BanEnabled:        conf.BanEnabled,
		BanThreshold:      conf.BanThreshold,
		BanWindow:         time.Duration(conf.BanWindowSeconds) * time.Second,
		BanTTL:            time.Duration(conf.BanTTLSeconds) * time.Second,
	}
	if conf.BanTTLSeconds == -1 {
		policy.BanTTL = ratelimit.NoExpiry
	}

	tracker := ratelimit.NewTracker(store, policy.BanWindow)
	bans := ratelimit.NewBanManager(store, policy.BanTTL)

	gate := ratelimit.NewGate(policy, store, tracker, bans,
		ratelimit.WithFailClosed(conf.StoreFailMode == cfg.FailClosed),
		ratelimit.WithOnCheck(m.IncGateCheck),
		ratelimit.WithOnDenied(func(_ ratelimit.Identity, reason ratelimit.DenyReason) {
			m.IncGateDenied(string(reason))
		}),
		ratelimit.WithOnViolation(func(id ratelimit.Identity, count int64) {
			m.IncViolation()
			L.Warn(ctx, "rate limit violation", "identity", id.Key(), "count", count)
		}),
		ratelimit.WithOnBanCreated(func(ratelimit.Identity) {
			m.IncBanCreated(metrics.BanSourceAuto)
		}),
		ratelimit.WithOnStoreError(m.IncStoreError),
	)

	adminAPI := adminhttp.NewAPI(adminhttp.Options{
		Policy:       policy,
		Violations:   tracker,
		Bans:         bans,
		StoreEnabled: storeUp.Load,
		Auth:         adminauth.NewTokenAuthorizer(conf.AdminToken),
		Logger:       L,
		OnBanCreated: func() {
			m.IncBanCreated(metrics.BanSourceManual)
		},
		OnViolationsCleaned: m.AddViolationsCleaned,
	})

	// setup toggle for server shutdown
	var drainGate probe.ShutdownGate

	readinessChecks := []probe.Probe{drainGate.Probe()}
	if conf.StoreFailMode == cfg.FailClosed {
		// in fail-closed mode a dead store means we shed all traffic, so
		// stop advertising ready and let the LB route around us
		readinessChecks = append(readinessChecks, probe.Func(func(context.Context) error {
			if !storeUp.Load() {
				return ratelimit.ErrStoreUnavailable
			}
			return nil
		}))
	}
	readiness := probe.Multi(readinessChecks...)

	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  gate.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		APIRoutes: func(r chi.Router) {
			r.Get("/api/ping", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				_, _ = w.Write([]byte(`{"pong":true}`))
			})
			adminAPI.RegisterRoutes(r)
		},
		Health:    probe.Static(true, ""),
		Readiness: readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// ops listener serves metrics, health checks, and pprof
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, sigStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer sigStop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections before closing listeners
	drainGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(30 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when we run under type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
