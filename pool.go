package main

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/Tutortoise/yolo-detection-service/models"
)

const DefaultPoolSize = 1

// detector is one model instance. It is used by a single goroutine at a time.
type detector interface {
	Detect(img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error)
	Destroy()
}

// SessionPool hands out model sessions so that each Run has exclusive use of
// a session's bound tensors. With size 1 every inference is serialised on
// the one model instance.
type SessionPool struct {
	sessions chan detector
	size     int
	mu       sync.Mutex
	closed   bool
	metrics  *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

type PoolStats struct {
	PoolSize        int           `json:"pool_size"`
	SessionsInUse   int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

func NewSessionPool(size int, newSession func() (detector, error)) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &SessionPool{
		sessions: make(chan detector, size),
		size:     size,
		metrics:  &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

// Acquire waits for a free session. It only gives up when ctx is done or
// the pool is closed.
func (p *SessionPool) Acquire(ctx context.Context) (detector, error) {
	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			p.recordFailure()
			return nil, fmt.Errorf("pool is closed")
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-ctx.Done():
		p.recordFailure()
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session detector) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

func (p *SessionPool) recordFailure() {
	p.metrics.mu.Lock()
	p.metrics.acquireFailures++
	p.metrics.mu.Unlock()
}

// Detect runs img through whichever session is free next.
func (p *SessionPool) Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	session, err := p.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer p.Release(session)

	return session.Detect(img, timings)
}

// WarmUp runs one blank frame through every session so the first request
// does not pay for lazy kernel initialisation.
func (p *SessionPool) WarmUp(ctx context.Context) error {
	frame := image.NewNRGBA(image.Rect(0, 0, 32, 32))

	held := make([]detector, 0, p.size)
	defer func() {
		for _, s := range held {
			p.Release(s)
		}
	}()

	for i := 0; i < p.size; i++ {
		session, err := p.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("warm up: %w", err)
		}
		held = append(held, session)

		if _, err := session.Detect(frame, &models.ProcessingTimings{}); err != nil {
			return fmt.Errorf("warm up session %d: %w", i, err)
		}
	}
	return nil
}

func (p *SessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
	return nil
}

func (p *SessionPool) Stats() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolStats{
		PoolSize:        p.size,
		SessionsInUse:   p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
	}
}
