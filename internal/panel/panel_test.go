package panel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/garimto81/ggm-timeline/internal/timeline"
)

func TestBankAddress(t *testing.T) {
	tests := []struct {
		code   int
		page   int
		button int
	}{
		{1, 1, 1},
		{2, 1, 2},
		{17, 1, 17},
		{32, 1, 32},
		{33, 2, 1},
		{64, 2, 32},
		{65, 3, 1},
	}
	for _, tt := range tests {
		page, button := BankAddress(tt.code)
		if page != tt.page || button != tt.button {
			t.Errorf("BankAddress(%d) = (%d, %d), want (%d, %d)", tt.code, page, button, tt.page, tt.button)
		}
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return New(u.Hostname(), port, time.Second)
}

func TestSendPressesBankButton(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ev := timeline.Event{Key: timeline.EventKey{BlockID: "7", Kind: timeline.KindHeadsUp}}

	if err := c.Send(context.Background(), 17, ev); err != nil {
		t.Fatalf("Send(17) error: %v", err)
	}
	if err := c.Send(context.Background(), 33, ev); err != nil {
		t.Fatalf("Send(33) error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/press/bank/1/17", "/press/bank/2/1"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("pressed %v, want %v", paths, want)
	}
}

func TestSendRejectsBadCode(t *testing.T) {
	c := New("127.0.0.1", 1, time.Second)
	if err := c.Send(context.Background(), 0, timeline.Event{}); err == nil {
		t.Error("code 0 did not return an error")
	}
}

func TestSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such bank", http.StatusNotFound)
	}))
	defer srv.Close()

	if err := newTestClient(t, srv).Send(context.Background(), 5, timeline.Event{}); err == nil {
		t.Error("404 response did not return an error")
	}
}

func TestSendConnectionRefused(t *testing.T) {
	// Port 1 is essentially never listening.
	c := New("127.0.0.1", 1, 200*time.Millisecond)
	if err := c.Send(context.Background(), 5, timeline.Event{}); err == nil {
		t.Error("unreachable panel did not return an error")
	}
}
