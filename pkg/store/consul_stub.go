//go:build !consul

package store

import (
	"log/slog"
)

// NewConsulStore returns a memory store when the consul build tag is not enabled.
func NewConsulStore(addr string) (Store, error) {
	slog.Warn("consul store requested but consul build tag not enabled; using memory store", "addr", addr)
	return NewMemoryStore(), nil
}
