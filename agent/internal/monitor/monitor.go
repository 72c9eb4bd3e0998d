package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/azmonbridge/azmonbridge/agent/internal/compute"
	"github.com/azmonbridge/azmonbridge/agent/internal/credential"
	"github.com/azmonbridge/azmonbridge/agent/internal/imds"
	"github.com/azmonbridge/azmonbridge/agent/internal/notify"
	"github.com/azmonbridge/azmonbridge/agent/internal/scraper"
	"github.com/azmonbridge/azmonbridge/agent/internal/security"
	"github.com/azmonbridge/azmonbridge/agent/internal/shipper"
	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

// ContextResolver is satisfied by *imds.Resolver.
type ContextResolver interface {
	Resolve(ctx context.Context) (imds.ResourceContext, error)
	Invalidate()
}

// CredentialSource is satisfied by *credential.Provider.
type CredentialSource interface {
	Acquire(ctx context.Context) (credential.Credential, error)
	Invalidate()
}

// MetricSender is satisfied by *shipper.Sender.
type MetricSender interface {
	Send(ctx context.Context, b shipper.Batch, cred credential.Credential) shipper.Result
}

// Notifier is satisfied by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// Deps are the components a cycle composes.
type Deps struct {
	Scraper     scraper.Scraper
	Engine      *compute.Engine
	Resolver    ContextResolver
	Credentials CredentialSource
	Sender      MetricSender
	Notifier    Notifier // optional

	// IngestionBase is passed to ResourceContext.IngestionURL for the TLS
	// probe in HealthCheck.
	IngestionBase string
	// ProbeTLS defaults to security.Check with the system roots.
	ProbeTLS func(ctx context.Context, endpoint string) security.CertStatus
}

// Options tune the Orchestrator. Zero values select defaults.
type Options struct {
	Interval       time.Duration
	UnhealthyAfter int
	ReresolveAfter int
	// NotifyTimeout bounds one round of webhook notifications.
	NotifyTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 60 * time.Second
	}
	if o.UnhealthyAfter <= 0 {
		o.UnhealthyAfter = 5
	}
	if o.ReresolveAfter <= 0 {
		o.ReresolveAfter = 3
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 15 * time.Second
	}
}

// Orchestrator runs collection cycles and tracks their health.
//
// Run, RunOnce and SendValue must not be called concurrently with each
// other. Health and Handler are safe for concurrent use.
type Orchestrator struct {
	deps Deps
	opts Options
	m    *metrics
	now  func() time.Time

	mu     sync.Mutex
	status Status
	// identityFailures counts consecutive resolution or delivery failures.
	identityFailures int
}

// New returns an Orchestrator in the Starting state.
func New(deps Deps, opts Options) *Orchestrator {
	opts.setDefaults()
	if deps.Engine == nil {
		deps.Engine = compute.NewEngine()
	}
	if deps.ProbeTLS == nil {
		deps.ProbeTLS = func(ctx context.Context, endpoint string) security.CertStatus {
			return security.Check(ctx, endpoint, nil)
		}
	}
	o := &Orchestrator{deps: deps, opts: opts, m: newMetrics(), now: time.Now}
	o.status.Healthy = true
	return o
}

// Gatherer exposes the agent's own metrics.
func (o *Orchestrator) Gatherer() prometheus.Gatherer { return o.m.registry }

// Health returns a copy of the current status.
func (o *Orchestrator) Health() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Run executes a cycle immediately and then on every tick until ctx is
// cancelled. No cycle starts after cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	defer o.stop()

	slog.Info("monitor: collection loop started", "interval", o.opts.Interval)
	for {
		if err := o.cycle(ctx); err != nil && ctx.Err() == nil {
			var ce *CycleError
			if errors.As(err, &ce) {
				slog.Warn("monitor: cycle failed", "stage", ce.Stage, "kind", ce.Kind, "err", ce.Err)
			}
		}
		select {
		case <-ctx.Done():
			slog.Info("monitor: collection loop stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// RunOnce executes a single cycle and returns its outcome.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	return o.cycle(ctx)
}

func (o *Orchestrator) stop() {
	o.mu.Lock()
	o.status.State = Stopped
	o.mu.Unlock()
}

// cycle runs scrape, compute, resolve, credential and send in order, then
// records the outcome.
func (o *Orchestrator) cycle(ctx context.Context) error {
	start := o.now()
	defer func() { o.m.duration.Observe(o.now().Sub(start).Seconds()) }()

	res, err := o.deps.Scraper.Scrape(ctx)
	if err == nil && res.Err != nil {
		err = res.Err
	}
	if err != nil {
		return o.fail(ctx, stageError(StageScrape, err), "")
	}
	if res.Skipped > 0 {
		slog.Debug("monitor: skipped malformed exposition lines", "count", res.Skipped)
	}

	result, err := o.deps.Engine.Process(res)
	if err != nil {
		return o.fail(ctx, stageError(StageCompute, err), "")
	}

	target, sent, err := o.deliver(ctx, result.Snapshot, result.Timestamp)
	if err != nil {
		return o.fail(ctx, err.(*CycleError), target)
	}

	o.succeed(ctx, target)
	args := []any{"samples", sent, "target", target}
	for k, v := range result.KeyMetrics() {
		args = append(args, k, v)
	}
	if !result.RateOK {
		args = append(args, "requests_per_second", "n/a")
	}
	slog.Info("monitor: cycle complete", args...)
	return nil
}

// deliver resolves the target, acquires a credential and sends snap. It
// returns the resource URI when the target was resolved.
func (o *Orchestrator) deliver(ctx context.Context, snap *snapshot.Snapshot, at time.Time) (string, int, error) {
	rc, err := o.deps.Resolver.Resolve(ctx)
	if err != nil {
		if ctx.Err() == nil {
			o.countIdentityFailure()
		}
		return "", 0, stageError(StageResolve, err)
	}
	target := rc.ResourceURI()

	cred, err := o.deps.Credentials.Acquire(ctx)
	if err != nil {
		return target, 0, stageError(StageCredential, err)
	}

	out := o.deps.Sender.Send(ctx, shipper.NewBatch(rc, snap, at), cred)
	o.m.attempts.Add(float64(out.Attempts))
	if out.Err != nil {
		if ctx.Err() == nil {
			o.onDeliveryFailure(out)
		}
		return target, 0, stageError(StageSend, out.Err)
	}
	o.m.samples.Add(float64(out.Sent))

	o.mu.Lock()
	o.identityFailures = 0
	o.mu.Unlock()
	return target, out.Sent, nil
}

func (o *Orchestrator) onDeliveryFailure(out shipper.Result) {
	switch out.Status {
	case http.StatusUnauthorized:
		slog.Warn("monitor: ingestion rejected token, dropping cached credential")
		o.deps.Credentials.Invalidate()
	case http.StatusNotFound:
		slog.Warn("monitor: ingestion target not found, re-resolving instance context")
		o.deps.Resolver.Invalidate()
		o.mu.Lock()
		o.identityFailures = 0
		o.mu.Unlock()
		return
	}
	o.countIdentityFailure()
}

func (o *Orchestrator) countIdentityFailure() {
	o.mu.Lock()
	o.identityFailures++
	drop := o.identityFailures >= o.opts.ReresolveAfter
	if drop {
		o.identityFailures = 0
	}
	o.mu.Unlock()

	if drop {
		slog.Warn("monitor: repeated failures, re-resolving instance context", "after", o.opts.ReresolveAfter)
		o.deps.Resolver.Invalidate()
	}
}

func (o *Orchestrator) fail(ctx context.Context, ce *CycleError, target string) error {
	if ctx.Err() != nil {
		// Cut short by shutdown.
		slog.Debug("monitor: cycle abandoned", "stage", ce.Stage, "err", ce.Err)
		return ce
	}
	o.m.cycles.WithLabelValues("failed", string(ce.Stage)).Inc()

	o.mu.Lock()
	o.status.State = Degraded
	o.status.Cycles++
	o.status.ConsecutiveFailures++
	o.status.LastError = ce.Err.Error()
	o.status.LastStage = ce.Stage
	o.status.LastErrorKind = ce.Kind
	if target != "" {
		o.status.Target = target
	}
	crossed := o.status.ConsecutiveFailures == o.opts.UnhealthyAfter
	o.status.Healthy = o.status.ConsecutiveFailures < o.opts.UnhealthyAfter
	st := o.status
	o.mu.Unlock()

	o.m.failing.Set(float64(st.ConsecutiveFailures))
	if crossed {
		slog.Error("monitor: agent unhealthy",
			"consecutive_failures", st.ConsecutiveFailures, "stage", ce.Stage, "kind", ce.Kind, "err", ce.Err)
		o.notify(ctx, notify.Event{
			State:               notify.Unhealthy,
			Target:              st.Target,
			Stage:               string(ce.Stage),
			ErrorKind:           ce.Kind,
			Message:             st.LastError,
			ConsecutiveFailures: st.ConsecutiveFailures,
			At:                  o.now(),
		})
	}
	return ce
}

func (o *Orchestrator) succeed(ctx context.Context, target string) {
	o.m.cycles.WithLabelValues("success", "").Inc()
	o.m.failing.Set(0)

	o.mu.Lock()
	wasUnhealthy := !o.status.Healthy
	failures := o.status.ConsecutiveFailures
	o.status.State = Running
	o.status.Healthy = true
	o.status.Cycles++
	o.status.ConsecutiveFailures = 0
	o.status.LastSuccess = o.now()
	o.status.Target = target
	o.mu.Unlock()

	if wasUnhealthy {
		slog.Info("monitor: agent recovered", "after_failures", failures)
		o.notify(ctx, notify.Event{
			State:               notify.Recovered,
			Target:              target,
			Message:             fmt.Sprintf("delivery succeeded after %d failed cycles", failures),
			ConsecutiveFailures: failures,
			At:                  o.now(),
		})
	}
}

func (o *Orchestrator) notify(ctx context.Context, ev notify.Event) {
	if o.deps.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.NotifyTimeout)
	defer cancel()
	_ = o.deps.Notifier.Notify(nctx, ev)
}

// SendValue delivers a single gauge outside the regular cycle. It does not
// change the health state.
func (o *Orchestrator) SendValue(ctx context.Context, name string, value float64) error {
	b := snapshot.NewBuilder()
	b.Record(name, snapshot.Gauge, nil, value)
	now := o.now()
	target, _, err := o.deliver(ctx, b.Build(now), now)
	if err != nil {
		return err
	}
	slog.Info("monitor: custom metric sent", "metric", name, "value", value, "target", target)
	return nil
}
