// Package geo resolves GPS coordinates to place names via the Nominatim
// (OpenStreetMap) reverse geocoding API.
//
// Nominatim is free but rate limited, so lookups are best effort: callers
// treat any failure as "no label" and move on.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultEndpoint = "https://nominatim.openstreetmap.org/reverse"

// Nominatim is a reverse geocoding client.
type Nominatim struct {
	endpoint string
	client   *http.Client
}

// New builds a client for the given endpoint. An empty endpoint uses the
// public Nominatim instance.
func New(endpoint string) *Nominatim {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Nominatim{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type reverseResponse struct {
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		Country      string `json:"country"`
	} `json:"address"`
}

// Reverse returns a "City (Country)" label for the coordinates, or whichever
// half is available.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	q.Set("format", "json")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	// Nominatim rejects requests without a User-Agent.
	req.Header.Set("User-Agent", "framelight/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode: unexpected status %d", resp.StatusCode)
	}

	var rr reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("reverse geocode: decode response: %w", err)
	}

	city := rr.Address.City
	if city == "" {
		city = rr.Address.Town
	}
	if city == "" {
		city = rr.Address.Village
	}
	if city == "" {
		city = rr.Address.Municipality
	}
	country := rr.Address.Country

	switch {
	case city != "" && country != "":
		return fmt.Sprintf("%s (%s)", city, country), nil
	case city != "":
		return city, nil
	case country != "":
		return country, nil
	default:
		return "", fmt.Errorf("reverse geocode: no address in response")
	}
}
