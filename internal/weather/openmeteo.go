package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	httpclient "weatherbot/internal/common/http"
)

const maxForecastDays = 7

// Forecast is the daily forecast slice returned by Open-Meteo.
type Forecast struct {
	Daily ForecastDaily `json:"daily"`
}

type ForecastDaily struct {
	Time                        []string  `json:"time"`
	Temperature2mMax            []float64 `json:"temperature_2m_max"`
	Temperature2mMin            []float64 `json:"temperature_2m_min"`
	WeatherCode                 []int     `json:"weathercode"`
	PrecipitationProbabilityMax []float64 `json:"precipitation_probability_max"`
	Windspeed10mMax             []float64 `json:"windspeed_10m_max"`
}

// Client fetches forecasts by coordinates or city name.
type Client struct {
	http     *httpclient.Client
	baseURL  string
	geocoder *Geocoder
}

func NewClient(hc *httpclient.Client, baseURL string, geocoder *Geocoder) *Client {
	return &Client{http: hc, baseURL: baseURL, geocoder: geocoder}
}

func (c *Client) Forecast(ctx context.Context, lat, lon float64, days int) (*Forecast, error) {
	if days > maxForecastDays {
		days = maxForecastDays
	}
	if days < 1 {
		days = 1
	}

	u := fmt.Sprintf(
		"%s?latitude=%.4f&longitude=%.4f&daily=temperature_2m_max,temperature_2m_min,weathercode,precipitation_probability_max,windspeed_10m_max&timezone=auto&forecast_days=%d",
		c.baseURL, lat, lon, days,
	)

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build forecast request: %w", err)
	}

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast request failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read forecast response: %w", err)
	}

	var forecast Forecast
	if err := json.Unmarshal(body, &forecast); err != nil {
		return nil, fmt.Errorf("decode forecast response: %w", err)
	}
	daily := forecast.Daily
	if len(daily.Time) == 0 {
		return nil, fmt.Errorf("forecast response contained no days")
	}
	// Every per-day field must cover all returned days; a truncated payload
	// would otherwise blow up when the digest indexes day zero.
	if len(daily.Temperature2mMax) < len(daily.Time) ||
		len(daily.Temperature2mMin) < len(daily.Time) ||
		len(daily.WeatherCode) < len(daily.Time) ||
		len(daily.Windspeed10mMax) < len(daily.Time) {
		return nil, fmt.Errorf("forecast response has truncated daily fields")
	}

	return &forecast, nil
}

// ForecastByCity geocodes the city and fetches its forecast.
func (c *Client) ForecastByCity(ctx context.Context, city string, days int) (*Forecast, Coordinates, error) {
	coords, err := c.geocoder.Lookup(ctx, city)
	if err != nil {
		return nil, Coordinates{}, err
	}

	forecast, err := c.Forecast(ctx, coords.Lat, coords.Lon, days)
	if err != nil {
		return nil, Coordinates{}, err
	}
	return forecast, coords, nil
}

// ResolveCity verifies a city name can be geocoded. Used to fail fast when a
// user sets up a notification for an unknown city.
func (c *Client) ResolveCity(ctx context.Context, city string) error {
	_, err := c.geocoder.Lookup(ctx, city)
	return err
}
