package shipper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/azmonbridge/azmonbridge/agent/internal/credential"
	"github.com/azmonbridge/azmonbridge/agent/internal/imds"
	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

const (
	contentType     = "application/x-ndjson"
	requestIDHeader = "x-ms-client-request-id"
	maxErrorBody    = 4096
)

// Batch is one cycle's samples bound to their target. It is sent once and
// never replayed.
type Batch struct {
	Target    imds.ResourceContext
	Samples   []snapshot.Sample
	CreatedAt time.Time
}

// NewBatch captures snap's samples for target.
func NewBatch(target imds.ResourceContext, snap *snapshot.Snapshot, at time.Time) Batch {
	return Batch{Target: target, Samples: snap.Samples(), CreatedAt: at}
}

// ErrorKind classifies a delivery failure.
type ErrorKind int

const (
	// Transient failures (network, 408, 429, 5xx) are retried.
	Transient ErrorKind = iota
	// Permanent failures (credential, RBAC, payload) need operator action.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// DeliveryError is a failed delivery attempt.
type DeliveryError struct {
	Kind   ErrorKind
	Status int    // 0 for transport errors
	Body   string // error message from the API, possibly truncated
	Err    error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("shipper: %s delivery error: %v", e.Kind, e.Err)
	case e.Body != "":
		return fmt.Sprintf("shipper: %s delivery error: status %d: %s", e.Kind, e.Status, e.Body)
	default:
		return fmt.Sprintf("shipper: %s delivery error: status %d", e.Kind, e.Status)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Result is the outcome of Send.
type Result struct {
	Attempts int
	Status   int
	Sent     int
	Err      error
}

// Options configure a Sender. Zero values select defaults.
type Options struct {
	Namespace string
	// IngestionBase overrides https://{location}.monitoring.azure.com.
	IngestionBase  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetryAfter  time.Duration
}

func (o *Options) setDefaults() {
	if o.Namespace == "" {
		o.Namespace = "Custom/NGINX"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxRetryAfter <= 0 {
		o.MaxRetryAfter = time.Minute
	}
}

// Sender posts batches to the custom metrics API.
type Sender struct {
	opts   Options
	client *http.Client

	// sleep and newID are injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// New returns a Sender.
func New(opts Options) *Sender {
	opts.setDefaults()
	return &Sender{
		opts:   opts,
		client: &http.Client{},
		sleep:  sleepCtx,
		newID:  func() string { return uuid.New().String() },
	}
}

// Namespace returns the metric namespace points are sent under.
func (s *Sender) Namespace() string { return s.opts.Namespace }

// Send delivers the batch in one request, retrying transient failures with
// exponential backoff. Permanent failures and context cancellation return at
// once.
func (s *Sender) Send(ctx context.Context, b Batch, cred credential.Credential) Result {
	var res Result

	body, dropped, err := encodeBatch(b, s.opts.Namespace)
	if err != nil {
		res.Err = &DeliveryError{Kind: Permanent, Err: err}
		return res
	}
	if dropped > 0 {
		slog.Warn("shipper: dropped non-finite samples", "count", dropped)
	}
	if len(body) == 0 {
		return res
	}
	url := b.Target.IngestionURL(s.opts.IngestionBase)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.InitialBackoff
	bo.MaxInterval = s.opts.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		status, retryAfter, err := s.post(ctx, url, body, cred)
		res.Status = status
		if err == nil {
			res.Err = nil
			res.Sent = len(b.Samples) - dropped
			slog.Debug("shipper: batch delivered",
				"samples", res.Sent, "attempts", attempt, "status", status)
			return res
		}
		res.Err = err

		var de *DeliveryError
		if !errors.As(err, &de) || de.Kind == Permanent || attempt >= s.opts.MaxAttempts || ctx.Err() != nil {
			return res
		}

		wait := bo.NextBackOff()
		if retryAfter > 0 {
			wait = retryAfter
			if wait > s.opts.MaxRetryAfter {
				wait = s.opts.MaxRetryAfter
			}
		}
		slog.Warn("shipper: transient delivery error, will retry",
			"attempt", attempt, "status", status, "err", err, "retry_in", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return res
		}
	}
}

// post performs one attempt with its own timeout.
func (s *Sender) post(ctx context.Context, url string, body []byte, cred credential.Credential) (int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, &DeliveryError{Kind: Permanent, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set(requestIDHeader, s.newID())

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, &DeliveryError{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, 0, nil
	}
	return resp.StatusCode, retryAfterOf(resp.Header.Get("Retry-After"), time.Now()), &DeliveryError{
		Kind:   classify(resp.StatusCode),
		Status: resp.StatusCode,
		Body:   errorMessage(raw),
	}
}

// classify maps a non-2xx status to an error kind.
func classify(code int) ErrorKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return Transient
	default:
		return Permanent
	}
}

// retryAfterOf parses Retry-After as delta seconds or an HTTP date.
func retryAfterOf(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0
		}
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// errorMessage extracts error.message from an API error document, falling
// back to the raw body.
func errorMessage(raw []byte) string {
	if msg := gjson.GetBytes(raw, "error.message").String(); msg != "" {
		if code := gjson.GetBytes(raw, "error.code").String(); code != "" {
			return code + ": " + msg
		}
		return msg
	}
	return strings.TrimSpace(string(raw))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
