// Package store provides the on-disk image store for framelight.
//
// Originals and proxies live under two directory roots, one file per image
// id (the hex sha256 of the original bytes). Record metadata is kept in a
// SQLite sidecar index that can be rebuilt from the files alone, so a
// missing or stale index is never fatal.
package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/framelight/framelight/internal/types"
	_ "modernc.org/sqlite"
)

// Errors returned by store operations.
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidState = errors.New("record in invalid state for operation")
)

// degradedThreshold is how many consecutive disk failures flip the store
// into the degraded condition surfaced to the web collaborator.
const degradedThreshold = 3

// Store is the catalog over original and proxy images. All mutating
// operations on a single id are mutually exclusive; distinct ids proceed
// concurrently.
type Store struct {
	conn         *sql.DB
	originalsDir string
	proxiesDir   string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	notifyC chan struct{}

	ioFailures atomic.Int32
}

// Open opens (or creates) the store with its index at indexPath.
func Open(indexPath, originalsDir, proxiesDir string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(indexPath), originalsDir, proxiesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", indexPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	if _, err := conn.Exec(Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{
		conn:         conn,
		originalsDir: originalsDir,
		proxiesDir:   proxiesDir,
		locks:        make(map[string]*sync.Mutex),
		notifyC:      make(chan struct{}, 1),
	}, nil
}

// Close closes the index connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Changes returns the store-changed notification channel. Delivery is
// coalesced: rapid mutations may collapse into a single signal, so consumers
// must always re-read the current store state after receiving.
func (s *Store) Changes() <-chan struct{} {
	return s.notifyC
}

// notify signals a store change without ever blocking the mutating caller.
func (s *Store) notify() {
	select {
	case s.notifyC <- struct{}{}:
	default:
	}
}

// Degraded reports whether repeated disk failures have been observed.
func (s *Store) Degraded() bool {
	return s.ioFailures.Load() >= degradedThreshold
}

func (s *Store) ioResult(err error) {
	if err != nil {
		s.ioFailures.Add(1)
		return
	}
	s.ioFailures.Store(0)
}

// HashBytes returns the content id for a blob of original image bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// lock returns the per-id mutex, creating it on first use.
func (s *Store) lock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Put computes the content id for data and creates a pending record with the
// original persisted, or returns the existing record unchanged when the same
// bytes were seen before. The bool reports whether a record was created.
func (s *Store) Put(data []byte, source string) (*types.ImageRecord, bool, error) {
	if !types.IsValidSource(source) {
		return nil, false, fmt.Errorf("unknown source %q", source)
	}

	id := HashBytes(data)
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	if rec, err := s.get(id); err == nil {
		return rec, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	originalPath := filepath.Join(s.originalsDir, id+sniffExt(data))
	if err := writeAtomic(originalPath, data); err != nil {
		s.ioResult(err)
		return nil, false, fmt.Errorf("persist original: %w", err)
	}
	s.ioResult(nil)

	now := time.Now().UTC()
	rec := &types.ImageRecord{
		ID:           id,
		OriginalPath: originalPath,
		CapturedAt:   now,
		Source:       source,
		Status:       types.StatusPending,
		IngestedAt:   now,
	}

	_, err := s.conn.Exec(`
		INSERT INTO images (id, original_path, captured_at, source, status, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OriginalPath, fmtTime(rec.CapturedAt), rec.Source, rec.Status, fmtTime(rec.IngestedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert record: %w", err)
	}

	s.notify()
	return rec, true, nil
}

// AttachProxy persists proxyBytes as the record's display proxy and moves it
// to processed. The record must exist and be pending.
func (s *Store) AttachProxy(id string, proxy []byte, capturedAt time.Time, geo *types.GeoTag) (*types.ImageRecord, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.StatusPending {
		return nil, fmt.Errorf("attach proxy to %s record %s: %w", rec.Status, id, ErrInvalidState)
	}

	proxyPath := filepath.Join(s.proxiesDir, id+".jpg")
	if err := writeAtomic(proxyPath, proxy); err != nil {
		s.ioResult(err)
		return nil, fmt.Errorf("persist proxy: %w", err)
	}
	s.ioResult(nil)

	rec.ProxyPath = proxyPath
	rec.Status = types.StatusProcessed
	rec.FailReason = ""
	if !capturedAt.IsZero() {
		rec.CapturedAt = capturedAt.UTC()
	}
	if geo != nil {
		rec.HasLocation = true
		rec.Latitude = geo.Latitude
		rec.Longitude = geo.Longitude
		rec.Location = geo.Label
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err = s.conn.Exec(`
		UPDATE images
		SET proxy_path = ?, captured_at = ?, latitude = ?, longitude = ?,
		    has_location = ?, location = ?, status = ?, fail_reason = '', updated_at = ?
		WHERE id = ?`,
		rec.ProxyPath, fmtTime(rec.CapturedAt), rec.Latitude, rec.Longitude,
		boolInt(rec.HasLocation), rec.Location, rec.Status, fmtTime(rec.UpdatedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}

	s.notify()
	return rec, nil
}

// MarkFailed moves the record to failed, keeping the original for retries.
func (s *Store) MarkFailed(id, reason string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.get(id); err != nil {
		return err
	}

	_, err := s.conn.Exec(
		"UPDATE images SET status = ?, fail_reason = ?, updated_at = ? WHERE id = ?",
		types.StatusFailed, reason, fmtTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	s.notify()
	return nil
}

// ResetFailed moves a failed record back to pending so processing can retry.
func (s *Store) ResetFailed(id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.get(id)
	if err != nil {
		return err
	}
	if rec.Status != types.StatusFailed {
		return fmt.Errorf("reset %s record %s: %w", rec.Status, id, ErrInvalidState)
	}

	_, err = s.conn.Exec(
		"UPDATE images SET status = ?, fail_reason = '', updated_at = ? WHERE id = ?",
		types.StatusPending, fmtTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	s.notify()
	return nil
}

// Delete removes the record with its original and proxy files. Deleting an
// absent id is a no-op.
func (s *Store) Delete(id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.get(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, path := range []string{rec.OriginalPath, rec.ProxyPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.ioResult(err)
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	s.ioResult(nil)

	if _, err := s.conn.Exec("DELETE FROM images WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	s.notify()
	return nil
}

// Get returns the record for id.
func (s *Store) Get(id string) (*types.ImageRecord, error) {
	return s.get(id)
}

const recordColumns = `id, original_path, proxy_path, captured_at, latitude, longitude,
	has_location, location, source, status, fail_reason, ingested_at, updated_at`

func (s *Store) get(id string) (*types.ImageRecord, error) {
	row := s.conn.QueryRow("SELECT "+recordColumns+" FROM images WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ListProcessed returns a stable id-ordered snapshot of processed records,
// the raw material for slideshow sequence rebuilds.
func (s *Store) ListProcessed() ([]*types.ImageRecord, error) {
	return s.list("WHERE status = '" + types.StatusProcessed + "' ORDER BY id ASC")
}

// List returns all records, newest ingested first.
func (s *Store) List() ([]*types.ImageRecord, error) {
	return s.list("ORDER BY ingested_at DESC, id ASC")
}

func (s *Store) list(clause string) ([]*types.ImageRecord, error) {
	rows, err := s.conn.Query("SELECT " + recordColumns + " FROM images " + clause)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var recs []*types.ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Counts returns record counts per status.
func (s *Store) Counts() (types.StoreCounts, error) {
	rows, err := s.conn.Query("SELECT status, COUNT(*) FROM images GROUP BY status")
	if err != nil {
		return types.StoreCounts{}, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	var c types.StoreCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch status {
		case types.StatusPending:
			c.Pending = n
		case types.StatusProcessed:
			c.Processed = n
		case types.StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// HasReplied reports whether an acknowledgement was already sent for a source
// message id. An index read failure counts as replied, keeping the reply path
// at-most-once.
func (s *Store) HasReplied(messageID string) bool {
	var n int
	err := s.conn.QueryRow("SELECT 1 FROM replies WHERE message_id = ?", messageID).Scan(&n)
	return !errors.Is(err, sql.ErrNoRows)
}

// MarkReplied records that an acknowledgement was sent for messageID.
func (s *Store) MarkReplied(messageID string) error {
	_, err := s.conn.Exec(
		"INSERT OR IGNORE INTO replies (message_id, replied_at) VALUES (?, ?)",
		messageID, fmtTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	return nil
}

// SetState stores an opaque value under key in the state table. State
// writes do not emit change notifications.
func (s *Store) SetState(key, value string) error {
	_, err := s.conn.Exec(
		"INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetState returns the value stored under key, or "" when absent.
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.conn.QueryRow("SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// RebuildResult summarizes an index rebuild.
type RebuildResult struct {
	Recovered int // records reconstructed from on-disk files
	Orphaned  int // index rows dropped because their files are gone
}

// Rebuild reconciles the index with the files on disk. A proxy without an
// index entry becomes a processed record with capturedAt taken from the file
// modification time; an original without a proxy becomes a pending record;
// rows whose files vanished are dropped.
func (s *Store) Rebuild() (RebuildResult, error) {
	var res RebuildResult

	proxies, err := filepath.Glob(filepath.Join(s.proxiesDir, "*.jpg"))
	if err != nil {
		return res, fmt.Errorf("scan proxies: %w", err)
	}
	for _, proxyPath := range proxies {
		id := strings.TrimSuffix(filepath.Base(proxyPath), ".jpg")
		if _, err := s.get(id); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return res, err
		}

		info, err := os.Stat(proxyPath)
		if err != nil {
			continue
		}
		ts := fmtTime(info.ModTime().UTC())
		_, err = s.conn.Exec(`
			INSERT INTO images (id, original_path, proxy_path, captured_at, source, status, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, s.findOriginal(id), proxyPath, ts, types.SourceUpload, types.StatusProcessed, ts,
		)
		if err != nil {
			return res, fmt.Errorf("recover record %s: %w", id, err)
		}
		res.Recovered++
	}

	originals, err := os.ReadDir(s.originalsDir)
	if err != nil {
		return res, fmt.Errorf("scan originals: %w", err)
	}
	for _, entry := range originals {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if _, err := s.get(id); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return res, err
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		ts := fmtTime(info.ModTime().UTC())
		_, err = s.conn.Exec(`
			INSERT INTO images (id, original_path, captured_at, source, status, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, filepath.Join(s.originalsDir, name), ts, types.SourceUpload, types.StatusPending, ts,
		)
		if err != nil {
			return res, fmt.Errorf("recover record %s: %w", id, err)
		}
		res.Recovered++
	}

	recs, err := s.List()
	if err != nil {
		return res, err
	}
	for _, rec := range recs {
		if fileExists(rec.OriginalPath) || fileExists(rec.ProxyPath) {
			continue
		}
		if _, err := s.conn.Exec("DELETE FROM images WHERE id = ?", rec.ID); err != nil {
			return res, fmt.Errorf("drop orphan row %s: %w", rec.ID, err)
		}
		res.Orphaned++
	}

	if res.Recovered > 0 || res.Orphaned > 0 {
		s.notify()
	}
	return res, nil
}

// findOriginal locates the original file for id regardless of extension.
func (s *Store) findOriginal(id string) string {
	matches, err := filepath.Glob(filepath.Join(s.originalsDir, id+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// writeAtomic writes data through a temp file and rename so readers never
// observe a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".framelight-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// sniffExt guesses a file extension from magic bytes. Unknown content keeps
// a neutral extension; the processor decides later whether it can decode it.
func sniffExt(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return ".jpg"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return ".png"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return ".gif"
	case bytes.HasPrefix(data, []byte("BM")):
		return ".bmp"
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return ".webp"
	default:
		return ".bin"
	}
}

func fmtTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.ImageRecord, error) {
	var rec types.ImageRecord
	var proxyPath, location, failReason, updatedAt sql.NullString
	var lat, lon sql.NullFloat64
	var hasLoc sql.NullInt64
	var capturedAt, ingestedAt string

	err := row.Scan(
		&rec.ID, &rec.OriginalPath, &proxyPath, &capturedAt, &lat, &lon,
		&hasLoc, &location, &rec.Source, &rec.Status, &failReason, &ingestedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ProxyPath = proxyPath.String
	rec.CapturedAt = parseTime(capturedAt)
	rec.Latitude = lat.Float64
	rec.Longitude = lon.Float64
	rec.HasLocation = hasLoc.Int64 == 1
	rec.Location = location.String
	rec.FailReason = failReason.String
	rec.IngestedAt = parseTime(ingestedAt)
	rec.UpdatedAt = parseTime(updatedAt.String)
	return &rec, nil
}
