// Command osrsprice looks up Old School RuneScape Grand Exchange prices. It
// loads configuration, applies command-line overrides, wires dependencies,
// sets up signal handling and prints one result per queried item.
//
// Exit status is 0 when every query succeeded, 1 when some query failed and
// 2 when the run could not start.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alanyoungcy/osrsprice/internal/app"
	"github.com/alanyoungcy/osrsprice/internal/config"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitFatal  = 2

	defaultConfigPath = "osrsprice.toml"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("osrsprice", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: osrsprice [flags] <item|id> [<item|id> ...]")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	cacheDir := fs.String("c", "", "cache directory (overrides cache.dir)")
	ttlSecs := fs.Int("t", 0, "price cache TTL in seconds (overrides cache.price_ttl)")
	forcePrices := fs.Bool("p", false, "force a price refresh, ignoring fresh cache entries")
	forceMapping := fs.Bool("m", false, "force a re-download of the item mapping")
	history := fs.Bool("history", false, "include historical prices")
	format := fs.String("o", "text", "output format: text or json")
	workers := fs.Int("workers", 0, "resolver worker count (overrides resolver.workers)")
	search := fs.Bool("search", false, "price every item whose name contains an argument")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitFatal
	}
	if err := app.CheckFormat(*format); err != nil {
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return exitFatal
	}

	// The default config file is optional; an explicit one is not.
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	cfg, err := config.Load(*configPath, !explicit)
	if err != nil {
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return exitFatal
	}

	if *cacheDir != "" {
		cfg.Cache.Dir = *cacheDir
	}
	if *ttlSecs > 0 {
		cfg.Cache.PriceTTL.Duration = time.Duration(*ttlSecs) * time.Second
	}
	if *workers > 0 {
		cfg.Resolver.Workers = *workers
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return exitFatal
	}

	application := app.New(cfg, logger, stdout)
	defer application.Close()

	// Setup signal handling; the cache is still flushed by Close.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx, app.Request{
		Items:          fs.Args(),
		Historical:     *history,
		ForceRefresh:   *forcePrices,
		RefreshMapping: *forceMapping,
		Search:         *search,
		Format:         *format,
	})
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, app.ErrQueriesFailed):
		return exitFailed
	default:
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return exitFatal
	}
}

// newLogger builds the stderr logger. stdout carries results only.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
