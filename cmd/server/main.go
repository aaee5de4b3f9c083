package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/garimto81/ggm-timeline/internal/config"
	"github.com/garimto81/ggm-timeline/internal/dispatcher"
	"github.com/garimto81/ggm-timeline/internal/ledger"
	"github.com/garimto81/ggm-timeline/internal/mock"
	"github.com/garimto81/ggm-timeline/internal/panel"
	"github.com/garimto81/ggm-timeline/internal/replay"
	"github.com/garimto81/ggm-timeline/internal/rowsource"
	"github.com/garimto81/ggm-timeline/internal/ws"
	"github.com/joho/godotenv"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use scripted demo collaborators instead of live services")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	origins := flag.String("origins", "", "Comma-separated allowed websocket origins")
	flag.Parse()

	// .env is optional; real env vars win over file values either way.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	var (
		rows     dispatcher.RowSource
		timecode dispatcher.TimecodeSource
		sink     dispatcher.CommandSink
	)
	if *mockMode {
		log.Println("Starting in mock mode (scripted hands, local clock, logging sink)")
		rows = mock.NewRowGenerator()
		timecode = mock.NewClock(cfg.OffsetSec())
		sink = mock.Sink{}
	} else {
		if cfg.Sources.RowsURL == "" {
			log.Fatal("sources.rows_url is required (or set TIMELINE_ROWS_URL)")
		}
		rows = rowsource.New(cfg.Sources.RowsURL, cfg.Sources.FetchTimeout)
		timecode = replay.New(cfg.Sources.TimecodeHost, cfg.Sources.TimecodePort, cfg.Sources.TimecodeTimeout)
		sink = panel.New(cfg.Sources.SinkHost, cfg.Sources.SinkPort, cfg.Sources.SinkTimeout)
	}

	led := ledger.New()
	disp := dispatcher.New(cfg, led, rows, timecode, sink, nil)

	broadcaster := ws.NewBroadcaster(disp, cfg.Dispatcher.BroadcastThrottle, cfg.Dispatcher.SnapshotInterval)
	disp.SetNotifier(broadcaster)

	server := ws.NewServer(disp, broadcaster, splitOrigins(*origins))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go disp.Run(ctx)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
