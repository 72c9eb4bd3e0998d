package credential

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/azmonbridge/azmonbridge/agent/internal/config"
	"github.com/azmonbridge/azmonbridge/agent/internal/imds"
)

const (
	defaultSPTimeout = 30 * time.Second
	// refreshTimeout bounds one pass over the whole strategy chain.
	refreshTimeout = time.Minute
)

// Provider caches a Credential and refreshes it through its strategies.
// It is safe for concurrent use.
type Provider struct {
	strategies     []Strategy
	margin         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	cached *Credential
}

// NewProvider returns a Provider trying strategies in order.
func NewProvider(margin time.Duration, strategies ...Strategy) *Provider {
	return &Provider{strategies: strategies, margin: margin, refreshTimeout: refreshTimeout, now: time.Now}
}

// FromConfig builds the strategy chain: managed identity first when enabled
// and a metadata client exists, then a complete service principal.
func FromConfig(cfg config.CredentialsConfig, c *imds.Client) *Provider {
	var chain []Strategy
	if cfg.UseManagedIdentity && c != nil {
		chain = append(chain, NewManagedIdentity(c, cfg.ManagedIdentityClientID))
	}
	if cfg.HasServicePrincipal() {
		chain = append(chain, NewServicePrincipal(cfg.AuthorityHost, cfg.TenantID, cfg.ClientID, cfg.ClientSecret(), defaultSPTimeout))
	}
	return NewProvider(cfg.RefreshMargin, chain...)
}

// Strategies lists the configured strategy kinds in order.
func (p *Provider) Strategies() []Kind {
	out := make([]Kind, len(p.strategies))
	for i, s := range p.strategies {
		out[i] = s.Kind()
	}
	return out
}

// Acquire returns the cached credential while it is fresh, otherwise
// obtains a new one. Only one refresh runs at a time; callers arriving
// during it wait for and share its result. The refresh is detached from any
// single caller's cancellation and bounded by its own timeout; a caller whose
// ctx ends stops waiting without affecting the others.
func (p *Provider) Acquire(ctx context.Context) (Credential, error) {
	if c, ok := p.fresh(); ok {
		return c, nil
	}

	ch := p.group.DoChan("refresh", func() (interface{}, error) {
		if c, ok := p.fresh(); ok {
			return c, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
		defer cancel()
		return p.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Credential{}, r.Err
		}
		if r.Shared {
			slog.Debug("credential: joined in-flight refresh")
		}
		return r.Val.(Credential), nil
	}
}

// Invalidate drops the cached credential, e.g. after the API rejected it.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

func (p *Provider) fresh() (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil && p.cached.Fresh(p.now(), p.margin) {
		return *p.cached, true
	}
	return Credential{}, false
}

func (p *Provider) refresh(ctx context.Context) (Credential, error) {
	authErr := &AuthError{}
	for _, s := range p.strategies {
		c, err := s.Acquire(ctx)
		if err != nil {
			slog.Warn("credential: strategy failed", "strategy", s.Kind().String(), "err", err)
			authErr.Failures = append(authErr.Failures, StrategyFailure{Strategy: s.Kind(), Err: err})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		p.mu.Lock()
		p.cached = &c
		p.mu.Unlock()
		slog.Info("credential: token acquired",
			"strategy", c.Strategy.String(),
			"expires_at", c.ExpiresAt.UTC().Format(time.RFC3339),
		)
		return c, nil
	}
	return Credential{}, authErr
}
