package config

import (
	"log/slog"
	"runtime"
	"strings"
)

// Backend names the tunnel device implementation.
type Backend string

const (
	BackendKernel    Backend = "kernel"
	BackendUserspace Backend = "userspace"
)

// DefaultBackend is the most portable backend for goos.
func DefaultBackend(goos string) Backend {
	if goos == "linux" {
		return BackendKernel
	}
	return BackendUserspace
}

// ParseBackend maps a configured name to a Backend usable on goos. Missing,
// unknown or unsupported names fall back to DefaultBackend with a warning.
func ParseBackend(name, goos string, log *slog.Logger) Backend {
	def := DefaultBackend(goos)
	switch Backend(strings.ToLower(strings.TrimSpace(name))) {
	case BackendKernel:
		if goos == "linux" {
			return BackendKernel
		}
		log.Warn("kernel backend is only available on linux; falling back", "requested", name, "backend", def, "os", goos)
		return def
	case BackendUserspace:
		return BackendUserspace
	case "":
		log.Warn("no backend configured; using default", "backend", def, "os", goos)
		return def
	default:
		log.Warn("unknown backend; using default", "requested", name, "backend", def, "os", goos)
		return def
	}
}

// RuntimeBackend is ParseBackend for the running OS.
func RuntimeBackend(name string, log *slog.Logger) Backend {
	return ParseBackend(name, runtime.GOOS, log)
}
