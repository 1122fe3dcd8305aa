// Package cfg defines the process configuration: flag registration,
// env-var fill, and startup validation. Precedence: cli flag > env > default.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/log"
)

// Store fail modes when the counter backend is unreachable.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

type App struct {
	LogJSON  bool
	LogLevel string

	HTTPPort  int
	AdminPort int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// TrustedHops is passed to the client-IP middleware; 0 distrusts
	// X-Forwarded-For entirely.
	TrustedHops int

	AdminToken string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RequestsPerMinute int
	RequestsPerHour   int
	BanEnabled        bool
	BanThreshold      int
	BanWindowSeconds  int
	BanTTLSeconds     int
	StoreFailMode     string

	// Optional SSM parameter holding JSON policy overrides, applied over
	// flag/env values at startup.
	PolicySSMParam string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on ops port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies for X-Forwarded-For (0 = none)")
	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token required for the rate-limit admin API (empty disables the API)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for the shared counter store (empty = in-memory, per-instance)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis AUTH password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis logical database")
	fs.IntVar(&c.RequestsPerMinute, "requests-per-minute", 60, "per-identity request budget per minute")
	fs.IntVar(&c.RequestsPerHour, "requests-per-hour", 1000, "per-identity request budget per hour")
	fs.BoolVar(&c.BanEnabled, "ban-enabled", true, "escalate repeat offenders to temporary bans")
	fs.IntVar(&c.BanThreshold, "ban-threshold", 5, "violations within ban-window-seconds that trigger a ban")
	fs.IntVar(&c.BanWindowSeconds, "ban-window-seconds", 3600, "rolling window for counting violations")
	fs.IntVar(&c.BanTTLSeconds, "ban-ttl-seconds", 86400, "automatic/manual ban lifetime (-1 = no expiry)")
	fs.StringVar(&c.StoreFailMode, "store-fail-mode", FailOpen, "gate behavior when the counter store is unreachable: open|closed")
	fs.StringVar(&c.PolicySSMParam, "policy-ssm-param", "", "SSM parameter with JSON rate-limit policy overrides (optional)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log level
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0 (got %d)", c.RedisDB))
	}

	// Rate-limit policy. Non-positive values are a fatal startup error.
	if c.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("REQUESTS_PER_MINUTE must be positive (got %d)", c.RequestsPerMinute))
	}
	if c.RequestsPerHour <= 0 {
		errs = append(errs, fmt.Errorf("REQUESTS_PER_HOUR must be positive (got %d)", c.RequestsPerHour))
	}
	if c.BanEnabled {
		if c.BanThreshold <= 0 {
			errs = append(errs, fmt.Errorf("BAN_THRESHOLD must be positive (got %d)", c.BanThreshold))
		}
		if c.BanWindowSeconds <= 0 {
			errs = append(errs, fmt.Errorf("BAN_WINDOW_SECONDS must be positive (got %d)", c.BanWindowSeconds))
		}
		if c.BanTTLSeconds <= 0 && c.BanTTLSeconds != -1 {
			errs = append(errs, fmt.Errorf("BAN_TTL_SECONDS must be positive or -1 for no expiry (got %d)", c.BanTTLSeconds))
		}
	}
	switch c.StoreFailMode {
	case FailOpen, FailClosed:
	default:
		errs = append(errs, fmt.Errorf("STORE_FAIL_MODE must be open or closed (got %q)", c.StoreFailMode))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
