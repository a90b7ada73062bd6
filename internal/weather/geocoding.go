// Package weather implements the forecast collaborator: geocoding, the
// Open-Meteo daily forecast client and the short digest formatter.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"weatherbot/internal/common/database"
	httpclient "weatherbot/internal/common/http"
	"weatherbot/internal/common/logger"
)

// ErrCityNotFound means the geocoder returned no match for the city name.
var ErrCityNotFound = errors.New("city not found")

// Coordinates is a resolved city location.
type Coordinates struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
}

// Geocoder resolves city names through Nominatim, with an optional Redis
// cache in front so repeated digest sends for the same city skip the HTTP
// round trip.
type Geocoder struct {
	http      *httpclient.Client
	baseURL   string
	userAgent string
	cache     *database.RedisClient // nil disables caching
	ttl       time.Duration
	logger    logger.Logger
}

func NewGeocoder(hc *httpclient.Client, baseURL, userAgent string, cache *database.RedisClient, ttl time.Duration, log logger.Logger) *Geocoder {
	return &Geocoder{
		http:      hc,
		baseURL:   baseURL,
		userAgent: userAgent,
		cache:     cache,
		ttl:       ttl,
		logger:    log.WithFields(map[string]interface{}{"component": "geocoder"}),
	}
}

// Lookup resolves a city name to coordinates.
func (g *Geocoder) Lookup(ctx context.Context, city string) (Coordinates, error) {
	key := cacheKey(city)

	if g.cache != nil {
		if raw, err := g.cache.Get(ctx, key); err == nil {
			var coords Coordinates
			if err := json.Unmarshal([]byte(raw), &coords); err == nil {
				return coords, nil
			}
		}
	}

	coords, err := g.fetch(ctx, city)
	if err != nil {
		return Coordinates{}, err
	}

	if g.cache != nil {
		if data, err := json.Marshal(coords); err == nil {
			if err := g.cache.Set(ctx, key, data, g.ttl); err != nil {
				g.logger.Debug("geocode cache write failed", map[string]interface{}{
					"city":  city,
					"error": err.Error(),
				})
			}
		}
	}

	return coords, nil
}

// nominatimResult mirrors the subset of the Nominatim search response the
// bot needs. Coordinates arrive as strings.
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (g *Geocoder) fetch(ctx context.Context, city string) (Coordinates, error) {
	u := fmt.Sprintf("%s?q=%s&format=json&limit=1", g.baseURL, url.QueryEscape(city))

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("build geocoding request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.http.DoWithContext(ctx, req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("geocoding request failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Coordinates{}, fmt.Errorf("read geocoding response: %w", err)
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return Coordinates{}, fmt.Errorf("decode geocoding response: %w", err)
	}
	if len(results) == 0 {
		return Coordinates{}, fmt.Errorf("%w: %q", ErrCityNotFound, city)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parse latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parse longitude: %w", err)
	}

	return Coordinates{Lat: lat, Lon: lon, DisplayName: results[0].DisplayName}, nil
}

func cacheKey(city string) string {
	return "geo:" + strings.ToLower(strings.TrimSpace(city))
}
