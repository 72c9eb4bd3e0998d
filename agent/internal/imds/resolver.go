package imds

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Static is the statically configured identity. Non-empty fields override
// the metadata service; with enough of them set the service is optional.
type Static struct {
	SubscriptionID string
	ResourceGroup  string
	ResourceName   string
	ScaleSetName   string
	InstanceID     string
	// Location is used only when the service reports none.
	Location string
}

func (s Static) complete() bool {
	return s.SubscriptionID != "" && s.ResourceGroup != "" && (s.ResourceName != "" || s.ScaleSetName != "")
}

// computeSource is the part of Client the Resolver depends on.
type computeSource interface {
	Compute(ctx context.Context) (Compute, error)
}

// Resolver produces and caches the ResourceContext.
// It is safe for concurrent use.
type Resolver struct {
	src      computeSource
	static   Static
	attempts int

	// newBackOff is injectable so tests do not sleep.
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	cached *ResourceContext
}

// NewResolver returns a Resolver querying c up to attempts times per
// resolution. c may be nil to rely on static identity alone.
func NewResolver(c *Client, static Static, attempts int) *Resolver {
	r := &Resolver{static: static, attempts: attempts}
	if c != nil {
		r.src = c
	}
	if r.attempts <= 0 {
		r.attempts = 1
	}
	r.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 4 * time.Second
		b.MaxElapsedTime = 0
		return b
	}
	return r
}

// Resolve returns the cached context or resolves a new one.
func (r *Resolver) Resolve(ctx context.Context) (ResourceContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}

	rc, err := r.resolve(ctx)
	if err != nil {
		return ResourceContext{}, err
	}
	r.cached = &rc
	slog.Info("imds: resolved instance context",
		"mode", rc.Mode.String(),
		"resource_uri", rc.ResourceURI(),
		"location", rc.Location,
		"instance", rc.InstanceID,
	)
	return rc, nil
}

// Invalidate drops the cached context; the next Resolve queries again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		slog.Info("imds: instance context invalidated")
	}
	r.cached = nil
}

func (r *Resolver) resolve(ctx context.Context) (ResourceContext, error) {
	if r.src == nil {
		return r.fromStatic(errors.New("metadata service disabled"), 0)
	}

	var (
		comp     Compute
		attempts int
	)
	op := func() error {
		attempts++
		c, err := r.src.Compute(ctx)
		if err != nil {
			slog.Debug("imds: compute request failed", "attempt", attempts, "err", err)
			return err
		}
		comp = c
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.attempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if ctx.Err() != nil {
			return ResourceContext{}, &ResolutionError{Attempts: attempts, Err: ctx.Err()}
		}
		slog.Warn("imds: metadata service unavailable, trying static identity", "attempts", attempts, "err", err)
		return r.fromStatic(err, attempts)
	}

	rc := r.merge(comp)
	if err := rc.Validate(); err != nil {
		return ResourceContext{}, &ResolutionError{Attempts: attempts, Err: err}
	}
	return rc, nil
}

// merge overlays static fields on the service's answer.
func (r *Resolver) merge(c Compute) ResourceContext {
	rc := ResourceContext{
		SubscriptionID: pick(r.static.SubscriptionID, c.SubscriptionID),
		ResourceGroup:  pick(r.static.ResourceGroup, c.ResourceGroup),
		ResourceName:   pick(r.static.ResourceName, c.Name),
		Location:       pick(c.Location, r.static.Location),
		ScaleSetName:   pick(r.static.ScaleSetName, c.ScaleSetName),
	}
	if rc.ScaleSetName != "" {
		rc.Mode = ScaleSetMember
		rc.InstanceID = pick(r.static.InstanceID, c.Name)
	}
	return rc
}

func (r *Resolver) fromStatic(cause error, attempts int) (ResourceContext, error) {
	if !r.static.complete() {
		return ResourceContext{}, &ResolutionError{Attempts: attempts, Err: cause}
	}
	rc := ResourceContext{
		SubscriptionID: r.static.SubscriptionID,
		ResourceGroup:  r.static.ResourceGroup,
		ResourceName:   r.static.ResourceName,
		Location:       r.static.Location,
		ScaleSetName:   r.static.ScaleSetName,
		InstanceID:     r.static.InstanceID,
	}
	if rc.ScaleSetName != "" {
		rc.Mode = ScaleSetMember
	}
	if err := rc.Validate(); err != nil {
		return ResourceContext{}, &ResolutionError{Attempts: attempts, Err: errors.Join(cause, err)}
	}
	return rc, nil
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
