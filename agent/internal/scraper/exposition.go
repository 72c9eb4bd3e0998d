package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/azmonbridge/azmonbridge/agent/internal/config"
)

// expositionScraper reads a Prometheus text endpoint, normally the exporter.
type expositionScraper struct {
	src    config.Source
	client *http.Client
}

// Scrape fetches and decodes the exposition. Malformed lines are skipped and
// counted; only a transport failure or a wholly unreadable payload sets Err.
func (s *expositionScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := newResult("exposition", s.src.URL)

	dec, err := fetchExposition(ctx, s.client, s.src.URL, res.ScrapedAt)
	if err != nil {
		res.Err = fmt.Errorf("exposition scrape %s: %w", s.src.URL, err)
		slog.Warn("scraper: exposition fetch failed", "url", s.src.URL, "err", err)
		return res, nil
	}

	res.Snapshot = dec.Snapshot(res.ScrapedAt)
	res.Skipped = dec.Skipped
	if res.Snapshot.Len() == 0 {
		res.Err = fmt.Errorf("exposition scrape %s: no samples", s.src.URL)
	}
	return res, nil
}
