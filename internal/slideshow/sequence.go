package slideshow

import (
	"math/rand"
	"sort"
	"time"

	"github.com/framelight/framelight/internal/types"
)

// Slide is one entry of the ordered sequence the display walks.
type Slide struct {
	ID         string
	ProxyPath  string
	CapturedAt time.Time
}

// BuildSequence derives the display order from processed records. Records are
// sorted ascending by the configured key with ties broken by id, then
// optionally shuffled with the given seed so the same seed reproduces the
// same order across rebuilds.
func BuildSequence(records []*types.ImageRecord, orderBy string, shuffle bool, seed int64) []Slide {
	slides := make([]Slide, 0, len(records))
	for _, rec := range records {
		if rec.Status != types.StatusProcessed {
			continue
		}
		slides = append(slides, Slide{
			ID:         rec.ID,
			ProxyPath:  rec.ProxyPath,
			CapturedAt: rec.CapturedAt,
		})
	}

	key := func(i int) time.Time { return slides[i].CapturedAt }
	if orderBy == "ingested" {
		byID := make(map[string]time.Time, len(records))
		for _, rec := range records {
			byID[rec.ID] = rec.IngestedAt
		}
		key = func(i int) time.Time { return byID[slides[i].ID] }
	}
	sort.Slice(slides, func(i, j int) bool {
		ti, tj := key(i), key(j)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return slides[i].ID < slides[j].ID
	})

	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(slides), func(i, j int) {
			slides[i], slides[j] = slides[j], slides[i]
		})
	}
	return slides
}

// indexOf returns the position of id in the sequence, or -1.
func indexOf(seq []Slide, id string) int {
	for i, s := range seq {
		if s.ID == id {
			return i
		}
	}
	return -1
}
