package opshttp

import (
	"net/http"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/probe"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      probe.Probe
	Readiness   probe.Probe
}
