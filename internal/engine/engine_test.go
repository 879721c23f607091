package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelight/framelight/internal/config"
	"github.com/framelight/framelight/internal/slideshow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Index = filepath.Join(dir, "frame.db")
	cfg.Paths.Originals = filepath.Join(dir, "originals")
	cfg.Paths.Proxies = filepath.Join(dir, "proxies")
	return cfg
}

func TestOpenAssemblesComponents(t *testing.T) {
	eng, err := Open(testConfig(t))
	require.NoError(t, err)
	defer eng.Store.Close()

	assert.NotNil(t, eng.Store)
	assert.NotNil(t, eng.Processor)
	assert.NotNil(t, eng.Slideshow)
	// No mailbox configured means no ingestor.
	assert.Nil(t, eng.Ingestor)
}

func TestRunStopsOnCancel(t *testing.T) {
	eng, err := Open(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	// Give the goroutines a moment to start, then shut down.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, slideshow.ModeEmpty, eng.Slideshow.Snapshot().Mode)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
}
