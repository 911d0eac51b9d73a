// Command server exposes the move engine over HTTP and websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/twenty48/config"
	"github.com/brensch/twenty48/logging"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	addr := flag.String("addr", ":8080", "Listen address")
	engineKind := flag.String("engine", string(cfg.Kind), "Search engine: expectimax, parallel, mcts or hybrid")
	flag.IntVar(&cfg.Depth, "depth", cfg.Depth, "Default expectimax depth")
	flag.IntVar(&cfg.TimeMs, "time-ms", cfg.TimeMs, "Default per-move time budget in ms")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Search goroutines per request")
	flag.StringVar(&cfg.WeightsPath, "weights", cfg.WeightsPath, "Weight document to evaluate with")
	flag.StringVar(&cfg.OnnxModel, "onnx-model", cfg.OnnxModel, "ONNX value model; empty evaluates on the CPU")
	logFormat := flag.String("log-format", logging.FormatPretty, "Log format: pretty, json or text")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()
	cfg.Kind = config.Kind(*engineKind)

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(os.Stderr, *logFormat, level)

	built, err := cfg.Build(logger)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer built.Close()

	srv := NewServer(built.Engine, cfg.Budget(), logger)
	server := &http.Server{
		Addr:              *addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("move server listening", "addr", *addr, "engine", cfg.Kind, "budget", cfg.Budget().String())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
}
