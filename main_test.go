package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartGatewayEagerFailureReturnsError(t *testing.T) {
	loader, count := countingLoader(nil, errors.New("model file not found: missing.onnx"), 0)
	g := NewGateway(loader, quietLogger())

	err := startGateway(context.Background(), LoadEager, g, quietLogger())
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "missing.onnx")
	assert.Equal(t, int64(1), count.Load())
	assert.NoError(t, g.Close())
}

func TestStartGatewayEager(t *testing.T) {
	engine := &fakeEngine{}
	loader, _ := countingLoader(engine, nil, 0)
	g := NewGateway(loader, quietLogger())

	require.NoError(t, startGateway(context.Background(), LoadEager, g, quietLogger()))
	assert.True(t, g.Loaded())
	require.NoError(t, g.Close())
	assert.True(t, engine.closed.Load())
}

func TestStartGatewayLazyDefersLoad(t *testing.T) {
	loader, count := countingLoader(&fakeEngine{}, nil, 0)
	g := NewGateway(loader, quietLogger())

	require.NoError(t, startGateway(context.Background(), LoadLazy, g, quietLogger()))
	assert.Equal(t, int64(0), count.Load())
	assert.Equal(t, StateUnloaded, g.State())
}
