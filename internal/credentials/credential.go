package credentials

import (
	"context"
	"errors"
)

// ErrNotConnected means the tenant has no Selling Partner integration on record.
var ErrNotConnected = errors.New("tenant not connected")

// Credential is a tenant's Selling Partner app credential. Read-only to the sync engine.
type Credential struct {
	Tenant        string
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	MarketplaceID string
}

type Store interface {
	Get(ctx context.Context, tenant string) (*Credential, error)
}
