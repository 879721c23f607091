package slideshow

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelight/framelight/internal/config"
	"github.com/framelight/framelight/internal/types"
)

func ids(seq []Slide) []string {
	out := make([]string, len(seq))
	for i, s := range seq {
		out[i] = s.ID
	}
	return out
}

func TestBuildSequenceOrdersByCapturedAt(t *testing.T) {
	recs := []*types.ImageRecord{
		processedRec("c", day(3)),
		processedRec("a", day(1)),
		processedRec("b", day(2)),
	}
	seq := BuildSequence(recs, "captured", false, 0)
	assert.Equal(t, []string{"a", "b", "c"}, ids(seq))
}

func TestBuildSequenceBreaksTiesByID(t *testing.T) {
	same := day(7)
	recs := []*types.ImageRecord{
		processedRec("zz", same),
		processedRec("aa", same),
		processedRec("mm", same),
	}
	seq := BuildSequence(recs, "captured", false, 0)
	assert.Equal(t, []string{"aa", "mm", "zz"}, ids(seq))
}

func TestBuildSequenceOrdersByIngestedAt(t *testing.T) {
	early := processedRec("late-capture", day(9))
	early.IngestedAt = day(1)
	late := processedRec("early-capture", day(2))
	late.IngestedAt = day(5)

	seq := BuildSequence([]*types.ImageRecord{late, early}, "ingested", false, 0)
	assert.Equal(t, []string{"late-capture", "early-capture"}, ids(seq))
}

func TestBuildSequenceSkipsUnprocessed(t *testing.T) {
	pending := processedRec("pending", day(1))
	pending.Status = types.StatusPending
	failed := processedRec("failed", day(2))
	failed.Status = types.StatusFailed

	seq := BuildSequence([]*types.ImageRecord{
		pending, failed, processedRec("ok", day(3)),
	}, "captured", false, 0)
	assert.Equal(t, []string{"ok"}, ids(seq))
}

func TestShuffleIsDeterministicPerSeed(t *testing.T) {
	recs := make([]*types.ImageRecord, 20)
	for i := range recs {
		recs[i] = processedRec(fmt.Sprintf("img-%02d", i), day(1).Add(time.Duration(i)*time.Hour))
	}

	a := BuildSequence(recs, "captured", true, 42)
	b := BuildSequence(recs, "captured", true, 42)
	assert.Equal(t, ids(a), ids(b), "same seed must reproduce the same order")

	c := BuildSequence(recs, "captured", true, 43)
	assert.NotEqual(t, ids(a), ids(c), "a different seed should reorder 20 slides")
	assert.ElementsMatch(t, ids(a), ids(c))
}

func TestSessionReseedKeepsOrderAcrossRebuilds(t *testing.T) {
	recs := make([]*types.ImageRecord, 12)
	for i := range recs {
		recs[i] = processedRec(fmt.Sprintf("img-%02d", i), day(1).Add(time.Duration(i)*time.Hour))
	}
	cat := newFakeCatalog(recs...)

	cfg := config.Default().Slideshow
	cfg.Shuffle = true
	cfg.ShuffleReseed = "session"

	e := New(cat, cfg)
	require.NoError(t, e.Rebuild())
	first := ids(e.seq)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Rebuild())
		assert.Equal(t, first, ids(e.seq))
	}
}

func TestRebuildReseedEventuallyReorders(t *testing.T) {
	recs := make([]*types.ImageRecord, 12)
	for i := range recs {
		recs[i] = processedRec(fmt.Sprintf("img-%02d", i), day(1).Add(time.Duration(i)*time.Hour))
	}
	cat := newFakeCatalog(recs...)

	cfg := config.Default().Slideshow
	cfg.Shuffle = true
	cfg.ShuffleReseed = "rebuild"

	e := New(cat, cfg)
	require.NoError(t, e.Rebuild())
	first := ids(e.seq)

	reordered := false
	for i := 0; i < 10 && !reordered; i++ {
		require.NoError(t, e.Rebuild())
		assert.ElementsMatch(t, first, ids(e.seq))
		if !assert.ObjectsAreEqual(first, ids(e.seq)) {
			reordered = true
		}
	}
	assert.True(t, reordered, "ten rebuilds of twelve slides should produce a new order")
}
