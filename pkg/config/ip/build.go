package ip

import (
	"encoding/hex"
	"strings"

	"github.com/veesix-networks/osvdhcp/pkg/allocator"
)

// BuildPool parses the pool section into an allocator pool.
func (s *DHCPServer) BuildPool() (*allocator.Pool, error) {
	name := s.Pool.Name
	if name == "" {
		name = "default"
	}
	return allocator.ParsePool(name, s.Pool.Network, s.Pool.Ranges, s.Pool.Exclude)
}

// DecodeHex accepts plain or colon separated hex, as used for client
// identifiers and raw option payloads.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
}
