package cfddns

import (
	"context"
	"net/netip"
)

// Resolver looks up the address that DNS records should point at.
type Resolver interface {
	Resolve(context.Context) (netip.Addr, error)
}

// Provider finds and rewrites address records hosted by a DNS provider.
type Provider interface {
	// FindRecordID returns the provider's identifier for the record with the given name and type.
	// It returns an error wrapping ErrRecordNotFound when the provider has no such record.
	FindRecordID(ctx context.Context, zoneID, name, recordType string) (string, error)

	// UpdateRecordContent replaces the record's content and returns the provider's raw response body.
	UpdateRecordContent(ctx context.Context, zoneID, recordID, name, content string) (string, error)
}

// ResolverFunc adapts an ordinary function to the Resolver interface.
type ResolverFunc func(context.Context) (netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) (netip.Addr, error) {
	return f(ctx)
}
