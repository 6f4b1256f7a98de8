// Package opdb persists operational state that must survive a restart:
// server lease checkpoints and the client's last binding per interface.
package opdb

import "context"

// Store is a namespaced key/value store. Values are opaque to it.
type Store interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Load(ctx context.Context, namespace string, fn LoadFunc) error
	Count(ctx context.Context, namespace string) (int, error)
	Clear(ctx context.Context, namespace string) error
	// Replace swaps the whole namespace for entries in one transaction.
	Replace(ctx context.Context, namespace string, entries map[string][]byte) error
	Close() error
}

// LoadFunc is called once per entry. Returning an error stops the load.
type LoadFunc func(key string, value []byte) error

const (
	NamespaceDHCPv4Leases       = "dhcpv4_leases"
	NamespaceDHCPv4ClientLeases = "dhcpv4_client_leases"
)

// Namespaces lists every namespace this build writes.
func Namespaces() []string {
	return []string{NamespaceDHCPv4Leases, NamespaceDHCPv4ClientLeases}
}
