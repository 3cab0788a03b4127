package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"humanity-chat/client-core/internal/clientconfig"
	"humanity-chat/client-core/internal/core"
	"humanity-chat/client-core/internal/identity"
	"humanity-chat/client-core/internal/metrics"
	"humanity-chat/client-core/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	relayURL := flag.String("relay", "", "Relay websocket URL override")
	displayName := flag.String("name", "", "Display name override")
	dataDir := flag.String("data-dir", "", "Directory for local data (optional)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("humanity-client version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *relayURL != "" {
		_ = os.Setenv("HUMANITY_RELAY_URL", *relayURL)
	}
	if *displayName != "" {
		_ = os.Setenv("HUMANITY_DISPLAY_NAME", *displayName)
	}
	if *dataDir != "" {
		_ = os.Setenv("HUMANITY_DATA_DIR", *dataDir)
	}

	conf := clientconfig.LoadFromPath(*configPath)
	logger := newLogger(conf.LogLevel)

	if err := os.MkdirAll(conf.DataDir, 0o700); err != nil {
		log.Fatalf("humanity-client failed to prepare data dir: %v", err)
	}

	passphrase := os.Getenv("HUMANITY_PASSPHRASE")
	store := identity.NewStore(conf.DataDir, passphrase)
	provider, phrase, err := store.LoadOrCreate()
	if err != nil {
		log.Fatalf("humanity-client failed to load identity: %v", err)
	}
	if phrase != "" {
		// Shown exactly once at registration; never logged.
		fmt.Println("New identity created. Write this recovery phrase down:")
		fmt.Println()
		fmt.Println("  " + phrase)
		fmt.Println()
	}

	m := metrics.New()
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", "err", err)
			}
		}()
	}

	c, err := core.New(core.Config{
		Conf:     conf,
		Identity: provider,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		log.Fatalf("humanity-client failed to initialize: %v", err)
	}

	go printEvents(ctx, c, logger)

	logger.Info("humanity-client starting", "version", version)
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("humanity-client failed: %v", err)
	}
	logger.Info("humanity-client stopped")
}

// printEvents drains the notification stream. A real UI replaces this loop;
// the headless binary just narrates.
func printEvents(ctx context.Context, c *core.Core, logger *slog.Logger) {
	replay, events, cancel := c.Subscribe(0)
	defer cancel()
	for _, ev := range replay {
		logger.Info("event", "topic", ev.Topic)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logger.Info("event", "topic", ev.Topic, "seq", ev.Seq)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(privacylog.WrapHandler(handler))
}
