package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

const (
	defaultFetchTimeout = 10 * time.Second
	maxStatusBytes      = 1 << 20
)

// Result is the outcome of one Fetch. Snapshot holds whatever parsed; the
// per-source errors say what did not.
//
// When one source fails, its series from the last successful fetch are
// carried into Snapshot with their original ObservedAt, and the matching
// Carried flag is set. Counters in a carried source are stale and must not
// be used as a rate baseline.
type Result struct {
	Snapshot    *snapshot.Snapshot
	StubErr     error
	JSONErr     error
	StubCarried bool
	JSONCarried bool
}

// Fetcher retrieves the stub_status page and, optionally, the JSON status
// document. It is safe for concurrent use.
type Fetcher struct {
	stubURL string
	jsonURL string
	client  *http.Client
	now     func() time.Time

	mu       sync.Mutex
	lastStub *snapshot.Snapshot
	lastJSON *snapshot.Snapshot
}

// NewFetcher builds a Fetcher. jsonURL may be empty to skip the JSON source.
// A non-positive timeout selects the 10s default.
func NewFetcher(stubURL, jsonURL string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return NewFetcherClient(stubURL, jsonURL, &http.Client{Timeout: timeout})
}

// NewFetcherClient builds a Fetcher that issues requests through client,
// which carries its own timeout, TLS and auth settings.
func NewFetcherClient(stubURL, jsonURL string, client *http.Client) *Fetcher {
	return &Fetcher{
		stubURL: stubURL,
		jsonURL: jsonURL,
		client:  client,
		now:     time.Now,
	}
}

// Fetch scrapes both sources and merges them into one snapshot. The two
// sources are independent: one failing does not block the other, and the
// failed source's last good series stay in the result. An error is returned
// only when neither source could be fetched this time.
func (f *Fetcher) Fetch(ctx context.Context) (*Result, error) {
	now := f.now().UTC()
	res := &Result{}

	stub, stubErr := f.fetchStub(ctx, now)
	res.StubErr = stubErr

	var js *snapshot.Snapshot
	if f.jsonURL != "" {
		js, res.JSONErr = f.fetchJSON(ctx, now)
	}

	if stub == nil && js == nil {
		return res, errors.Join(res.StubErr, res.JSONErr)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	b := snapshot.NewBuilder()
	switch {
	case stub != nil:
		f.lastStub = stub
		b.Merge(stub)
	case f.lastStub != nil:
		b.Merge(f.lastStub)
		res.StubCarried = true
	}
	switch {
	case js != nil:
		f.lastJSON = js
		b.Merge(js)
	case f.jsonURL != "" && f.lastJSON != nil:
		b.Merge(f.lastJSON)
		res.JSONCarried = true
	}
	res.Snapshot = b.Build(now)
	return res, nil
}

// Probe checks that the stub_status endpoint answers 200.
func (f *Fetcher) Probe(ctx context.Context) error {
	_, err := f.get(ctx, f.stubURL)
	return err
}

func (f *Fetcher) fetchStub(ctx context.Context, now time.Time) (*snapshot.Snapshot, error) {
	body, err := f.get(ctx, f.stubURL)
	if err != nil {
		return nil, err
	}
	return ParseStub(string(body), now)
}

func (f *Fetcher) fetchJSON(ctx context.Context, now time.Time) (*snapshot.Snapshot, error) {
	body, err := f.get(ctx, f.jsonURL)
	if err != nil {
		return nil, err
	}
	return ParseJSON(body, now)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if text := strings.TrimSpace(string(body)); text != "" {
			return nil, fmt.Errorf("GET %s: unexpected status %d: %s", url, resp.StatusCode, text)
		}
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", url, err)
	}
	return body, nil
}
