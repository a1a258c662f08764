//go:build consul

package store

import (
	"wgnet/pkg/consul"
)

// NewConsulStore creates a Consul-backed store (requires build tag consul).
func NewConsulStore(addr string) (Store, error) {
	return consul.NewStore(addr)
}
