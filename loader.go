package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Tutortoise/yolo-detection-service/detections"
	"github.com/sirupsen/logrus"
)

// newONNXLoader returns a Loader that builds the session pool from the model
// artifact at cfg.ModelPath.
func newONNXLoader(cfg *Config, log *logrus.Logger) Loader {
	return func(ctx context.Context) (Engine, error) {
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
		}

		if err := detections.InitializeRuntime(cfg.LibPath); err != nil {
			return nil, err
		}

		log.WithField("features", detections.CPUFeatures()).Debug("CPU capabilities")
		if detections.SlowCPU() {
			log.Warn("CPU lacks AVX2, inference will be slow")
		}

		log.WithFields(logrus.Fields{
			"model":     cfg.ModelPath,
			"pool_size": cfg.PoolSize,
		}).Info("Loading model")

		pool, err := NewSessionPool(cfg.PoolSize, func() (detector, error) {
			session, err := detections.NewModelSession(detections.SessionConfig{
				ModelPath:      cfg.ModelPath,
				InputSize:      cfg.InputSize,
				IntraOpThreads: cfg.IntraOpThreads,
			})
			if err != nil {
				return nil, err
			}
			return session, nil
		})
		if err != nil {
			return nil, err
		}

		if err := pool.WarmUp(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}
}
