package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/azmonbridge/azmonbridge/agent/internal/config"
	"github.com/azmonbridge/azmonbridge/pkg/exposition"
	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

const defaultScrapeTimeout = 10 * time.Second

// ScrapeResult is the normalized output of one scrape. Counter samples hold
// raw totals; the compute engine derives rates across consecutive results.
type ScrapeResult struct {
	SourceType string
	URL        string
	ScrapedAt  time.Time

	// Snapshot holds the typed samples. Nil when Err is set.
	Snapshot *snapshot.Snapshot

	// Skipped counts exposition lines dropped as malformed.
	Skipped int

	// Carried is set when the request counters were carried from an earlier
	// scrape because their source failed this time.
	Carried bool

	// Err is non-nil if the scrape itself failed (connectivity, auth, parse).
	Err error
}

// Scraper is implemented by both source types.
type Scraper interface {
	Scrape(ctx context.Context) (*ScrapeResult, error)
}

// New returns the Scraper for the configured source type. It builds the HTTP
// client once and reuses it across scrape calls.
func New(src config.Source) (Scraper, error) {
	client, err := buildHTTPClient(src)
	if err != nil {
		return nil, fmt.Errorf("scraper: build http client: %w", err)
	}
	switch src.Type {
	case "exposition", "":
		return &expositionScraper{src: src, client: client}, nil
	case "stub_status":
		return newStubScraper(src, client), nil
	default:
		return nil, fmt.Errorf("scraper: unsupported type %q", src.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the source's auth and TLS settings.
func buildHTTPClient(src config.Source) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if src.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(src.Auth.CertFile, src.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if src.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(src.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", src.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = defaultScrapeTimeout
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
			auth: src.Auth,
		},
		Timeout: timeout,
	}, nil
}

// fetchExposition GETs url and decodes the text exposition it returns.
func fetchExposition(ctx context.Context, client *http.Client, url string, now time.Time) (*exposition.Decoded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return exposition.Decode(resp.Body, now)
}

// newResult initialises an empty ScrapeResult stamped with the current time.
func newResult(sourceType, url string) *ScrapeResult {
	return &ScrapeResult{
		SourceType: sourceType,
		URL:        url,
		ScrapedAt:  time.Now().UTC(),
	}
}
