// Package rowsource fetches hand-history rows from the sheet gateway.
package rowsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Envelope is the gateway response shape. Rows stay loosely typed here;
// header normalization happens during ingest.
type Envelope struct {
	OK       bool             `json:"ok"`
	Rows     []map[string]any `json:"rows"`
	HeroSlot int              `json:"heroSlot"`
	VillSlot int              `json:"villSlot"`
	CSVPos   string           `json:"csvPos"`
}

type Client struct {
	url  string
	http *http.Client
}

func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// FetchRows retrieves the current row batch. A transport failure or a
// response with ok=false is an error; callers keep the previous batch.
func (c *Client) FetchRows(ctx context.Context) ([]map[string]any, error) {
	env, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return env.Rows, nil
}

// Fetch returns the full envelope, including the hero/villain slot hints.
func (c *Client) Fetch(ctx context.Context) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building rows request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching rows: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rows source returned status %d", resp.StatusCode)
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding rows response: %w", err)
	}
	if !env.OK {
		return nil, fmt.Errorf("rows source reported not ok")
	}
	return &env, nil
}
