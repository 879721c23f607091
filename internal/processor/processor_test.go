package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelight/framelight/internal/store"
	"github.com/framelight/framelight/internal/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(
		filepath.Join(dir, "frame.db"),
		filepath.Join(dir, "originals"),
		filepath.Join(dir, "proxies"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testOptions() Options {
	return Options{Width: 1024, Height: 600, Quality: 85, Workers: 2, Timeout: 10 * time.Second}
}

func TestProcessScalesToDisplay(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	rec, _, err := st.Put(makeJPEG(t, 2000, 1000), types.SourceEmail)
	require.NoError(t, err)

	processed, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessed, processed.Status)
	require.FileExists(t, processed.ProxyPath)

	data, err := os.ReadFile(processed.ProxyPath)
	require.NoError(t, err)
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.LessOrEqual(t, img.Bounds().Dx(), 1024)
	assert.LessOrEqual(t, img.Bounds().Dy(), 600)
	// Aspect ratio of 2000x1000 fitted into 1024x600 is width-bound.
	assert.Equal(t, 1024, img.Bounds().Dx())
}

func TestProcessKeepsSmallImages(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	rec, _, err := st.Put(makeJPEG(t, 100, 80), types.SourceUpload)
	require.NoError(t, err)

	processed, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)

	data, err := os.ReadFile(processed.ProxyPath)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestProcessCapturedAtFallsBackToIngestedAt(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	rec, _, err := st.Put(makeJPEG(t, 50, 50), types.SourceEmail)
	require.NoError(t, err)

	processed, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, processed.CapturedAt.Equal(rec.IngestedAt),
		"capturedAt %v should fall back to ingestedAt %v", processed.CapturedAt, rec.IngestedAt)
}

func TestProcessUndecodableMarksFailed(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	rec, _, err := st.Put([]byte("definitely not an image"), types.SourceEmail)
	require.NoError(t, err)

	_, err = proc.Process(context.Background(), rec.ID)
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))

	got, err := st.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.NotEmpty(t, got.FailReason)
	// The original stays on disk for later retries.
	assert.FileExists(t, got.OriginalPath)
}

func TestProcessRetriesFailedRecord(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	rec, _, err := st.Put(makeJPEG(t, 60, 60), types.SourceEmail)
	require.NoError(t, err)
	require.NoError(t, st.MarkFailed(rec.ID, "transient disk error"))

	processed, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessed, processed.Status)
	assert.Empty(t, processed.FailReason)
}

func TestProcessAlreadyProcessedIsNoOp(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	rec, _, err := st.Put(makeJPEG(t, 60, 60), types.SourceEmail)
	require.NoError(t, err)

	first, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)
	second, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ProxyPath, second.ProxyPath)
	assert.True(t, second.UpdatedAt.Equal(first.UpdatedAt))
}

// Two concurrent callers for the same id must share one conversion. If the
// work ran twice, the second attach would fail with the pending-only rule,
// so both calls succeeding with the same proxy path proves coalescing.
func TestProcessConcurrentCallersCoalesce(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	rec, _, err := st.Put(makeJPEG(t, 800, 600), types.SourceEmail)
	require.NoError(t, err)

	const callers = 4
	paths := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := proc.Process(context.Background(), rec.ID)
			errs[i] = err
			if err == nil {
				paths[i] = got.ProxyPath
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
}

func TestProcessAll(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	for i := 0; i < 3; i++ {
		_, _, err := st.Put(makeJPEG(t, 40+i, 40), types.SourceUpload)
		require.NoError(t, err)
	}
	bad, _, err := st.Put([]byte("broken bytes"), types.SourceUpload)
	require.NoError(t, err)

	n, err := proc.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := st.Get(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)

	counts, err := st.Counts()
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Processed)
	assert.Equal(t, 1, counts.Failed)
}

func TestFitBounds(t *testing.T) {
	cases := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape wide", 4000, 2000, 1024, 512},
		{"portrait tall", 600, 1200, 300, 600},
		{"exact fit", 1024, 600, 1024, 600},
		{"smaller untouched", 320, 200, 320, 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img := fit(image.NewRGBA(image.Rect(0, 0, tc.w, tc.h)), 1024, 600)
			assert.Equal(t, tc.wantW, img.Bounds().Dx())
			assert.Equal(t, tc.wantH, img.Bounds().Dy())
		})
	}
}
