package main

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/framelight/framelight/internal/config"
)

// writeTestConfig points all store paths into a temp dir and returns the
// config file path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Originals = filepath.Join(dir, "originals")
	cfg.Paths.Proxies = filepath.Join(dir, "proxies")
	cfg.Paths.Index = filepath.Join(dir, "frame.db")

	path := filepath.Join(dir, "framelight.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func writeTestPhoto(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil))

	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestIngestAllDuplicatesSucceeds(t *testing.T) {
	cfgPath := writeTestConfig(t)
	photo := writeTestPhoto(t)

	rootCmd.SetArgs([]string{"--config", cfgPath, "--quiet", "ingest", photo})
	require.NoError(t, rootCmd.Execute())

	// Ingesting the same file again dedups against the existing record; an
	// all-duplicates run exits clean.
	rootCmd.SetArgs([]string{"--config", cfgPath, "--quiet", "ingest", photo})
	require.NoError(t, rootCmd.Execute())
}

func TestIngestUnreadableFileFails(t *testing.T) {
	cfgPath := writeTestConfig(t)

	rootCmd.SetArgs([]string{"--config", cfgPath, "--quiet", "ingest",
		filepath.Join(t.TempDir(), "missing.jpg")})
	require.Error(t, rootCmd.Execute())
}
