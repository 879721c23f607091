package processor

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/framelight/framelight/internal/types"
)

// Metadata is what the processor reads out of embedded image tags. Absent
// fields stay at their zero values; absence is never an error.
type Metadata struct {
	CapturedAt  time.Time
	Orientation int
	Geo         *types.GeoTag
}

// ExtractMetadata pulls capture time, orientation and GPS coordinates from
// the EXIF block, if any. Non-JPEG inputs and images without EXIF simply
// yield an empty Metadata.
func ExtractMetadata(data []byte) Metadata {
	var meta Metadata

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return meta
	}

	// DateTimeOriginal is preferred over DateTime inside goexif.
	if dt, err := x.DateTime(); err == nil {
		meta.CapturedAt = dt.UTC()
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta.Orientation = v
		}
	}

	if lat, lon, err := x.LatLong(); err == nil {
		meta.Geo = &types.GeoTag{Latitude: lat, Longitude: lon}
	}

	return meta
}
