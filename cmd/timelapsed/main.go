// Package main is the entry point for the timelapse checkpoint daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rybkr/timelapse/internal/daemon"
	"github.com/rybkr/timelapse/internal/ipc"
	"github.com/rybkr/timelapse/internal/metrics"
	"github.com/rybkr/timelapse/internal/objhash"
	"github.com/rybkr/timelapse/internal/repo"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	initLogger()

	rootFlag := flag.String("root", getEnv("TIMELAPSE_ROOT", "."), "Repository root")
	initFlag := flag.Bool("init", false, "Initialize a new repository at -root if one doesn't exist")
	algoFlag := flag.String("hash-algo", getEnv("TIMELAPSE_HASH_ALGO", "sha1"), "Content hash algorithm for a new repository: sha1 or blake3")
	metricsAddr := flag.String("metrics-addr", getEnv("TIMELAPSE_METRICS_ADDR", "127.0.0.1:0"), "Loopback address to serve /metrics and the checkpoint event WebSocket on")
	retentionInterval := flag.Duration("retention-interval", time.Hour, "How often to run an automatic retention sweep")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("timelapsed %s (%s)\n", version, commit)
		os.Exit(0)
	}

	r, err := openOrInitRepo(*rootFlag, *initFlag, *algoFlag)
	if err != nil {
		slog.Error("failed to open repository", "err", err)
		os.Exit(1)
	}

	d, err := daemon.New(daemon.Config{Repo: r, RetentionInterval: *retentionInterval})
	if err != nil {
		slog.Error("failed to construct daemon", "err", err)
		os.Exit(1)
	}
	if err := d.Start(); err != nil {
		slog.Error("failed to start daemon", "err", err)
		os.Exit(1)
	}

	httpLn, err := net.Listen("tcp", *metricsAddr)
	if err != nil {
		slog.Error("failed to listen for metrics/events", "addr", *metricsAddr, "err", err)
		os.Exit(1)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/events", d.Stream())
	httpServer := &http.Server{Handler: mux}
	go func() {
		if err := httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics/events server failed", "err", err)
		}
	}()
	slog.Info("serving metrics and checkpoint events", "addr", httpLn.Addr().String())

	ipcServer := ipc.NewServer(d, slog.Default())
	errCh := make(chan error, 1)
	go func() {
		errCh <- ipcServer.ListenAndServe(r.SocketPath())
	}()
	slog.Info("timelapsed listening", "socket", r.SocketPath(), "root", r.Root(), "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("ipc server failed", "err", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown initiated")
		stop()
	}

	ipcServer.Close() //nolint:errcheck
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	cancel()
	d.Shutdown()
}

func openOrInitRepo(root string, initIfMissing bool, algoName string) (*repo.Repository, error) {
	r, err := repo.Open(root)
	if err == nil {
		return r, nil
	}
	if !initIfMissing {
		return nil, err
	}
	algo, parseErr := objhash.ParseAlgo(algoName)
	if parseErr != nil {
		return nil, parseErr
	}
	return repo.Init(root, algo)
}

// initLogger reads TIMELAPSE_LOG_LEVEL and TIMELAPSE_LOG_FORMAT from the
// environment, constructs the appropriate slog.Handler, and installs it as
// the default logger via slog.SetDefault.
func initLogger() {
	level := slog.LevelInfo
	switch getEnv("TIMELAPSE_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if getEnv("TIMELAPSE_LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
