// Package replay reads the playback timecode from a vMix replay instance
// over its XML status API.
package replay

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	url  string
	http *http.Client
}

func New(host string, port int, timeout time.Duration) *Client {
	return &Client{
		url:  fmt.Sprintf("http://%s:%d/api/", host, port),
		http: &http.Client{Timeout: timeout},
	}
}

// vmixStatus holds the one fragment of the status document we care about.
type vmixStatus struct {
	Replay struct {
		Timecode string `xml:"timecode"`
	} `xml:"replay"`
}

// Timecode returns the current replay position as seconds of day.
func (c *Client) Timecode(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("building timecode request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching timecode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("timecode source returned status %d", resp.StatusCode)
	}

	var status vmixStatus
	if err := xml.NewDecoder(resp.Body).Decode(&status); err != nil {
		return 0, fmt.Errorf("decoding status XML: %w", err)
	}
	if status.Replay.Timecode == "" {
		return 0, fmt.Errorf("status XML has no replay timecode")
	}
	return ParseTimecode(status.Replay.Timecode)
}

// ParseTimecode converts a vMix timecode string to seconds of day.
// Accepts bare clock forms ("14:03:21.4"), date-prefixed forms
// ("2024-05-01T14:03:21.4Z"), and the semicolon frame separator some
// firmware emits in place of the final colon.
func ParseTimecode(tc string) (float64, error) {
	s := strings.TrimSpace(tc)
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, "Z")
	s = strings.ReplaceAll(s, ";", ":")

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timecode %q", tc)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timecode %q", tc)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed timecode %q", tc)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timecode %q", tc)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("timecode %q out of range", tc)
	}
	return float64(h)*3600 + float64(m)*60 + sec, nil
}
