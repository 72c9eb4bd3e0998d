package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/azmonbridge/azmonbridge/agent/internal/config"
	"github.com/azmonbridge/azmonbridge/pkg/status"
)

// stubScraper reads nginx's status endpoints directly, bypassing the exporter.
type stubScraper struct {
	src     config.Source
	fetcher *status.Fetcher
}

func newStubScraper(src config.Source, client *http.Client) *stubScraper {
	return &stubScraper{
		src:     src,
		fetcher: status.NewFetcherClient(src.URL, src.JSONURL, client),
	}
}

// Scrape fetches stub_status and the optional JSON document. A failure in
// one source is logged and the other is still used.
func (s *stubScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := newResult("stub_status", s.src.URL)

	out, err := s.fetcher.Fetch(ctx)
	if err != nil {
		res.Err = fmt.Errorf("stub_status scrape %s: %w", s.src.URL, err)
		slog.Warn("scraper: stub_status fetch failed", "url", s.src.URL, "err", err)
		return res, nil
	}
	if out.StubErr != nil {
		slog.Warn("scraper: stub_status source failed", "url", s.src.URL, "err", out.StubErr)
	}
	if out.JSONErr != nil {
		slog.Warn("scraper: json status source failed", "url", s.src.JSONURL, "err", out.JSONErr)
	}

	res.Carried = out.StubCarried
	res.Snapshot = out.Snapshot
	res.ScrapedAt = out.Snapshot.CapturedAt()
	return res, nil
}
