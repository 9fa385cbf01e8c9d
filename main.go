package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/yolo-detection-service/detections"
	"github.com/sirupsen/logrus"
)

// newLogger writes to stdout, and also to logFile when one is configured.
func newLogger(debug bool, logFile string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.WithError(err).Warn("Failed to log to file, using stdout only")
		} else {
			log.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}
	return log
}

// startGateway loads the model up front when the strategy is eager.
func startGateway(ctx context.Context, strategy string, gateway *Gateway, log *logrus.Logger) error {
	if strategy != LoadEager {
		log.Info("Model will be loaded on first prediction")
		return nil
	}
	if err := gateway.EnsureLoaded(ctx); err != nil {
		return fmt.Errorf("failed to start API: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Error("Exiting")
		os.Exit(1)
	}
}

// run returns instead of exiting so the deferred model cleanup always runs.
func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg.Debug, cfg.LogFile)

	gateway := NewGateway(newONNXLoader(cfg, log), log)
	defer func() {
		if err := gateway.Close(); err != nil {
			log.WithError(err).Warn("Error closing model")
		}
		if err := detections.DestroyRuntime(); err != nil {
			log.WithError(err).Warn("Error destroying onnxruntime environment")
		}
	}()

	if err := startGateway(context.Background(), cfg.LoadStrategy, gateway, log); err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      NewServer(gateway, log, cfg.MaxUploadBytes).Handler(),
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting YOLOv8 Detection API on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Graceful shutdown failed")
	}
	return nil
}
