package main

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/yolo-detection-service/models"
	"github.com/sirupsen/logrus"
)

// Engine is a loaded detection model. Implementations must tolerate
// concurrent Detect calls.
type Engine interface {
	Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error)
	Close() error
}

// Loader constructs the engine from its on-disk artifact.
type Loader func(ctx context.Context) (Engine, error)

type ModelState int32

const (
	StateUnloaded ModelState = iota
	StateLoading
	StateReady
	StateFailed
)

func (s ModelState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var errModelNotLoaded = errors.New("model is not loaded")

// Gateway owns the single model handle. Loading is serialised: concurrent
// callers wait for the one in-flight load, and once Ready the engine is
// never replaced.
type Gateway struct {
	load Loader
	log  *logrus.Logger

	mu      sync.Mutex
	engine  atomic.Pointer[Engine]
	lastErr error

	state    atomic.Int32
	attempts atomic.Int64
}

func NewGateway(load Loader, log *logrus.Logger) *Gateway {
	return &Gateway{load: load, log: log}
}

func (g *Gateway) State() ModelState {
	return ModelState(g.state.Load())
}

func (g *Gateway) Loaded() bool {
	return g.State() == StateReady
}

// LoadCount is the number of times the loader has been invoked.
func (g *Gateway) LoadCount() int64 {
	return g.attempts.Load()
}

func (g *Gateway) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// EnsureLoaded loads the model unless it is already Ready. A failed load
// leaves the gateway Failed and may be retried by a later call.
func (g *Gateway) EnsureLoaded(ctx context.Context) error {
	if g.Loaded() {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Loaded() {
		return nil
	}

	g.state.Store(int32(StateLoading))
	g.attempts.Add(1)
	start := time.Now()

	engine, err := g.load(ctx)
	if err == nil && engine == nil {
		err = errors.New("loader returned no engine")
	}
	if err != nil {
		g.lastErr = err
		g.state.Store(int32(StateFailed))
		g.log.WithError(err).Error("Error loading model")
		return &LoadError{Cause: err}
	}

	g.engine.Store(&engine)
	g.lastErr = nil
	g.state.Store(int32(StateReady))
	g.log.WithField("duration", time.Since(start)).Info("Model loaded successfully")
	return nil
}

// Engine returns the loaded engine, or nil before the model is Ready.
func (g *Gateway) Engine() Engine {
	if !g.Loaded() {
		return nil
	}
	if p := g.engine.Load(); p != nil {
		return *p
	}
	return nil
}

// Run passes img to the model and returns every detection it emits.
func (g *Gateway) Run(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	engine := g.Engine()
	if engine == nil {
		return nil, &LoadError{Cause: errModelNotLoaded}
	}

	detections, err := engine.Detect(ctx, img, timings)
	if err != nil {
		return nil, &InferenceError{Cause: err}
	}
	if detections == nil {
		detections = []models.Detection{}
	}
	return detections, nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.engine.Swap(nil)
	if p == nil {
		return nil
	}
	g.state.Store(int32(StateUnloaded))
	return (*p).Close()
}
