package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelight/framelight/internal/types"
)

// exifTIFF builds a minimal little-endian TIFF block: IFD0 carries the
// orientation plus pointers to an Exif sub-IFD (DateTimeOriginal) and a GPS
// sub-IFD fixed at 52°31'12"N 13°24'18"E, which is exactly 52.52, 13.405.
func exifTIFF(t *testing.T, dateTime string, orientation uint16) []byte {
	t.Helper()
	require.Len(t, dateTime, 19, "EXIF datetime layout is 2006:01:02 15:04:05")

	le := binary.LittleEndian
	const (
		ifd0Off    = 8   // TIFF header
		exifIFDOff = 50  // ifd0Off + 2 + 3*12 + 4
		dateOff    = 68  // exifIFDOff + 2 + 1*12 + 4
		gpsIFDOff  = 88  // dateOff + 20
		latOff     = 142 // gpsIFDOff + 2 + 4*12 + 4
		lonOff     = 166 // latOff + 3*8
	)

	b := []byte("II")
	b = le.AppendUint16(b, 42)
	b = le.AppendUint32(b, ifd0Off)

	entry := func(tag, typ uint16, count, value uint32) {
		b = le.AppendUint16(b, tag)
		b = le.AppendUint16(b, typ)
		b = le.AppendUint32(b, count)
		b = le.AppendUint32(b, value)
	}
	rational := func(num, den uint32) {
		b = le.AppendUint32(b, num)
		b = le.AppendUint32(b, den)
	}

	// IFD0, entries sorted by tag.
	b = le.AppendUint16(b, 3)
	entry(0x0112, 3, 1, uint32(orientation)) // Orientation, SHORT
	entry(0x8769, 4, 1, exifIFDOff)          // ExifIFDPointer
	entry(0x8825, 4, 1, gpsIFDOff)           // GPSInfoIFDPointer
	b = le.AppendUint32(b, 0)

	// Exif sub-IFD: DateTimeOriginal, NUL-terminated ASCII.
	require.Len(t, b, exifIFDOff)
	b = le.AppendUint16(b, 1)
	entry(0x9003, 2, 20, dateOff)
	b = le.AppendUint32(b, 0)
	require.Len(t, b, dateOff)
	b = append(b, dateTime...)
	b = append(b, 0)

	// GPS sub-IFD: refs inline, coordinates as deg/min/sec rationals.
	require.Len(t, b, gpsIFDOff)
	b = le.AppendUint16(b, 4)
	entry(0x0001, 2, 2, uint32('N')) // GPSLatitudeRef
	entry(0x0002, 5, 3, latOff)      // GPSLatitude
	entry(0x0003, 2, 2, uint32('E')) // GPSLongitudeRef
	entry(0x0004, 5, 3, lonOff)      // GPSLongitude
	b = le.AppendUint32(b, 0)
	require.Len(t, b, latOff)
	rational(52, 1)
	rational(31, 1)
	rational(12, 1)
	require.Len(t, b, lonOff)
	rational(13, 1)
	rational(24, 1)
	rational(18, 1)
	return b
}

// exifJPEG splices an EXIF APP1 segment right after the SOI marker of a
// plain encoded JPEG.
func exifJPEG(t *testing.T, img []byte, dateTime string, orientation uint16) []byte {
	t.Helper()
	tiff := exifTIFF(t, dateTime, orientation)

	seg := make([]byte, 0, len(tiff)+10)
	seg = append(seg, 0xFF, 0xE1)
	seg = binary.BigEndian.AppendUint16(seg, uint16(2+6+len(tiff)))
	seg = append(seg, "Exif\x00\x00"...)
	seg = append(seg, tiff...)

	require.True(t, bytes.HasPrefix(img, []byte{0xFF, 0xD8}), "not a JPEG")
	out := make([]byte, 0, len(img)+len(seg))
	out = append(out, img[:2]...)
	out = append(out, seg...)
	out = append(out, img[2:]...)
	return out
}

// captureTime parses an EXIF datetime string the way goexif does: in the
// local zone, since the tag carries no offset.
func captureTime(t *testing.T, dateTime string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006:01:02 15:04:05", dateTime, time.Local)
	require.NoError(t, err)
	return ts
}

func TestExtractMetadata(t *testing.T) {
	data := exifJPEG(t, makeJPEG(t, 40, 20), "2024:05:01 12:00:00", 6)
	meta := ExtractMetadata(data)

	want := captureTime(t, "2024:05:01 12:00:00")
	assert.True(t, meta.CapturedAt.Equal(want), "capturedAt %v, want %v", meta.CapturedAt, want)
	assert.Equal(t, 6, meta.Orientation)
	require.NotNil(t, meta.Geo)
	assert.InDelta(t, 52.52, meta.Geo.Latitude, 1e-6)
	assert.InDelta(t, 13.405, meta.Geo.Longitude, 1e-6)
}

func TestExtractMetadataWithoutEXIF(t *testing.T) {
	meta := ExtractMetadata(makeJPEG(t, 8, 8))
	assert.True(t, meta.CapturedAt.IsZero())
	assert.Zero(t, meta.Orientation)
	assert.Nil(t, meta.Geo)
}

func TestProcessUsesEmbeddedMetadata(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	data := exifJPEG(t, makeJPEG(t, 40, 20), "2024:05:01 12:00:00", 6)
	rec, _, err := st.Put(data, types.SourceEmail)
	require.NoError(t, err)

	processed, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)

	want := captureTime(t, "2024:05:01 12:00:00")
	assert.True(t, processed.CapturedAt.Equal(want), "capturedAt %v, want %v", processed.CapturedAt, want)
	assert.True(t, processed.HasLocation)
	assert.InDelta(t, 52.52, processed.Latitude, 1e-6)
	assert.InDelta(t, 13.405, processed.Longitude, 1e-6)

	// Orientation 6 rotates upright: the 40x20 source becomes a 20x40 proxy.
	raw, err := os.ReadFile(processed.ProxyPath)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())
}

func TestReprocessYieldsIdenticalProxy(t *testing.T) {
	st := openTestStore(t)
	proc := New(st, testOptions())

	data := exifJPEG(t, makeJPEG(t, 1600, 900), "2024:05:01 12:00:00", 1)
	rec, _, err := st.Put(data, types.SourceUpload)
	require.NoError(t, err)

	first, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)
	before, err := os.ReadFile(first.ProxyPath)
	require.NoError(t, err)

	// Force the retry path; the conversion reproduces the exact bytes.
	require.NoError(t, st.MarkFailed(rec.ID, "interrupted"))
	second, err := proc.Process(context.Background(), rec.ID)
	require.NoError(t, err)
	after, err := os.ReadFile(second.ProxyPath)
	require.NoError(t, err)

	assert.Equal(t, first.ProxyPath, second.ProxyPath)
	assert.True(t, bytes.Equal(before, after), "reprocessing must reproduce the proxy byte for byte")
}
