// Package types defines core data structures for framelight.
package types

import "time"

// ImageRecord describes one image in the store. The ID is the hex sha256 of
// the original bytes, so identical uploads collapse onto one record.
type ImageRecord struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"original_path"`
	ProxyPath    string    `json:"proxy_path,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
	Latitude     float64   `json:"latitude,omitempty"`
	Longitude    float64   `json:"longitude,omitempty"`
	HasLocation  bool      `json:"has_location,omitempty"`
	Location     string    `json:"location,omitempty"`
	Source       string    `json:"source"`
	Status       string    `json:"status"`
	FailReason   string    `json:"fail_reason,omitempty"`
	IngestedAt   time.Time `json:"ingested_at"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// GeoTag is a geographic tag extracted from image metadata. Label is the
// optional human-readable place name from reverse geocoding.
type GeoTag struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// Source constants.
const (
	SourceEmail  = "email"
	SourceUpload = "upload"
)

// ValidSources is the set of allowed source values.
var ValidSources = []string{SourceEmail, SourceUpload}

// IsValidSource checks if a source string is valid.
func IsValidSource(s string) bool {
	for _, v := range ValidSources {
		if v == s {
			return true
		}
	}
	return false
}

// Status constants.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// ValidStatuses is the set of allowed status values.
var ValidStatuses = []string{StatusPending, StatusProcessed, StatusFailed}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(s string) bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// PollResult holds the outcome of one mailbox poll cycle.
type PollResult struct {
	Messages  int    `json:"messages"`
	Stored    int    `json:"stored"`
	Duplicate int    `json:"duplicate"`
	Replied   int    `json:"replied"`
	Error     string `json:"error,omitempty"`
}

// StoreCounts summarizes records per status.
type StoreCounts struct {
	Pending   int `json:"pending"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Total returns the number of records across all statuses.
func (c StoreCounts) Total() int {
	return c.Pending + c.Processed + c.Failed
}
