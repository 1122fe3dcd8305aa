package ratelimit

import (
	"time"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/xerrors"
)

// NoExpiry marks a ban that never expires until explicitly removed.
const NoExpiry time.Duration = -1

// Window is a fixed counting window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
)

// Windows lists all windows a request is counted against, in check order.
var Windows = []Window{WindowMinute, WindowHour}

func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	}
	return 0
}

// Policy is the immutable rate-limit configuration, loaded once at startup.
type Policy struct {
	RequestsPerMinute int
	RequestsPerHour   int
	BanEnabled        bool
	BanThreshold      int
	BanWindow         time.Duration
	BanTTL            time.Duration // NoExpiry = never expires
}

// Limit returns the request budget for the given window.
func (p Policy) Limit(w Window) int {
	switch w {
	case WindowMinute:
		return p.RequestsPerMinute
	case WindowHour:
		return p.RequestsPerHour
	}
	return 0
}

// Validate rejects non-positive limits/thresholds/TTLs. Called once at
// startup; failures are fatal.
func (p Policy) Validate() error {
	if p.RequestsPerMinute <= 0 {
		return xerrors.Newf("requests per minute must be positive (got %d)", p.RequestsPerMinute)
	}
	if p.RequestsPerHour <= 0 {
		return xerrors.Newf("requests per hour must be positive (got %d)", p.RequestsPerHour)
	}
	if p.BanEnabled {
		if p.BanThreshold <= 0 {
			return xerrors.Newf("ban threshold must be positive (got %d)", p.BanThreshold)
		}
		if p.BanWindow <= 0 {
			return xerrors.Newf("ban window must be positive (got %s)", p.BanWindow)
		}
		if p.BanTTL <= 0 && p.BanTTL != NoExpiry {
			return xerrors.Newf("ban ttl must be positive or NoExpiry (got %s)", p.BanTTL)
		}
	}
	return nil
}
