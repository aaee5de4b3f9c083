// Package panel delivers fire commands to a Bitfocus Companion panel by
// pressing the bank button the event code maps onto.
package panel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/garimto81/ggm-timeline/internal/timeline"
)

// bankSize is the number of buttons per Companion page.
const bankSize = 32

type Client struct {
	base string
	http *http.Client
}

func New(host string, port int, timeout time.Duration) *Client {
	return &Client{
		base: fmt.Sprintf("http://%s:%d", host, port),
		http: &http.Client{Timeout: timeout},
	}
}

// BankAddress maps a 1-based command code onto a Companion page and
// button, both 1-based. Code 1 is page 1 button 1, code 33 page 2
// button 1, and so on.
func BankAddress(code int) (page, button int) {
	n := code - 1
	return n/bankSize + 1, n%bankSize + 1
}

// Send presses the bank button for code. The event is carried for
// logging symmetry with other sinks; Companion only sees the address.
func (c *Client) Send(ctx context.Context, code int, _ timeline.Event) error {
	if code < 1 {
		return fmt.Errorf("command code %d out of range", code)
	}
	page, button := BankAddress(code)
	url := fmt.Sprintf("%s/press/bank/%d/%d", c.base, page, button)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building press request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pressing bank %d/%d: %w", page, button, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("panel returned status %d for bank %d/%d", resp.StatusCode, page, button)
	}
	return nil
}
