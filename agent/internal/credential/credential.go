package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Audience is the managed identity resource for custom metrics.
	Audience = "https://monitoring.azure.com/"
	// Scope is the client credentials scope for custom metrics.
	Scope = "https://monitoring.azure.com/.default"

	defaultLifetime = time.Hour
)

// Kind names a strategy.
type Kind int

const (
	ManagedIdentity Kind = iota
	ServicePrincipal
)

func (k Kind) String() string {
	if k == ServicePrincipal {
		return "service_principal"
	}
	return "managed_identity"
}

// Credential is a bearer token and its expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	Strategy  Kind
}

// Fresh reports whether c can still be used at now without entering the
// refresh margin.
func (c Credential) Fresh(now time.Time, margin time.Duration) bool {
	return c.Token != "" && now.Add(margin).Before(c.ExpiresAt)
}

// Strategy acquires a credential one way.
type Strategy interface {
	Acquire(ctx context.Context) (Credential, error)
	Kind() Kind
}

// expiry picks the expiry for token: the issuer's value when present, else
// the JWT exp claim, else a default lifetime.
func expiry(token string, issued time.Time, now time.Time) time.Time {
	if !issued.IsZero() {
		return issued
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(defaultLifetime)
}

// StrategyFailure is one strategy's error inside an AuthError.
type StrategyFailure struct {
	Strategy Kind
	Err      error
}

// AuthError reports that every configured strategy failed.
type AuthError struct {
	Failures []StrategyFailure
}

func (e *AuthError) Error() string {
	if len(e.Failures) == 0 {
		return "credential: no strategy configured"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Strategy, f.Err)
	}
	return "credential: all strategies failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes each strategy's error to errors.Is and errors.As.
func (e *AuthError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}
