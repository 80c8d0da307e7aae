package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSource reads per-chain snapshots from an external market-data service
// exposing GET {base}/snapshot?chain=<id> returning a JSON array of records.
// The scraping itself lives in that service; this is only its client.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource creates a source against the given base URL.
func NewHTTPSource(base string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

// FetchSnapshot implements Source.
func (s *HTTPSource) FetchSnapshot(ctx context.Context, chainID int64) ([]Record, error) {
	url := fmt.Sprintf("%s/snapshot?chain=%d", s.base, chainID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot chain %d: %w", chainID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("snapshot chain %d: status %d: %s", chainID, resp.StatusCode, string(body))
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode snapshot chain %d: %w", chainID, err)
	}

	// Tag the fetch time when the source omits it so staleness tracking
	// still works.
	now := time.Now().UTC()
	for i := range records {
		if records[i].UpdatedAt.IsZero() {
			records[i].UpdatedAt = now
		}
	}
	return records, nil
}
