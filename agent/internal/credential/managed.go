package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/azmonbridge/azmonbridge/agent/internal/imds"
)

// tokenSource is the part of imds.Client the managed identity strategy uses.
type tokenSource interface {
	Token(ctx context.Context, resource, clientID string) (imds.Token, error)
}

type managedIdentity struct {
	src      tokenSource
	clientID string
	now      func() time.Time
}

// NewManagedIdentity returns the managed identity strategy. clientID selects
// a user-assigned identity; empty uses the system-assigned one.
func NewManagedIdentity(c *imds.Client, clientID string) Strategy {
	return &managedIdentity{src: c, clientID: clientID, now: time.Now}
}

func (m *managedIdentity) Kind() Kind { return ManagedIdentity }

func (m *managedIdentity) Acquire(ctx context.Context) (Credential, error) {
	tok, err := m.src.Token(ctx, Audience, m.clientID)
	if err != nil {
		return Credential{}, fmt.Errorf("managed identity: %w", err)
	}
	return Credential{
		Token:     tok.AccessToken,
		ExpiresAt: expiry(tok.AccessToken, tok.ExpiresOn, m.now()),
		Strategy:  ManagedIdentity,
	}, nil
}
