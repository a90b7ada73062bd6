package weather

import (
	"context"
	"fmt"
	"strings"
)

// Digest returns the one-day weather summary used for the daily
// notification.
func (c *Client) Digest(ctx context.Context, city string) (string, error) {
	forecast, coords, err := c.ForecastByCity(ctx, city, 1)
	if err != nil {
		return "", err
	}

	daily := forecast.Daily
	var b strings.Builder
	fmt.Fprintf(&b, "🌤 Weather in %s:\n\n", coords.DisplayName)
	fmt.Fprintf(&b, "🌡 Temperature: %.0f°C...%.0f°C\n", daily.Temperature2mMin[0], daily.Temperature2mMax[0])
	fmt.Fprintf(&b, "%s\n", Condition(daily.WeatherCode[0]))
	fmt.Fprintf(&b, "💨 Wind: %.0f km/h\n", daily.Windspeed10mMax[0])
	if len(daily.PrecipitationProbabilityMax) > 0 && daily.PrecipitationProbabilityMax[0] >= 30 {
		fmt.Fprintf(&b, "🌧 Precipitation chance: %.0f%%\n", daily.PrecipitationProbabilityMax[0])
	}

	return b.String(), nil
}

// Condition maps a WMO weather code to a short human-readable description.
func Condition(code int) string {
	switch {
	case code == 0:
		return "☀️ Clear"
	case code == 1:
		return "🌤 Mostly clear"
	case code == 2:
		return "⛅ Partly cloudy"
	case code == 3:
		return "☁️ Overcast"
	case code == 45 || code == 48:
		return "🌫 Fog"
	case code >= 51 && code <= 57:
		return "🌦 Drizzle"
	case code >= 61 && code <= 67:
		return "🌧 Rain"
	case code >= 71 && code <= 77:
		return "🌨 Snow"
	case code >= 80 && code <= 82:
		return "🌧 Rain showers"
	case code == 85 || code == 86:
		return "🌨 Snow showers"
	case code >= 95:
		return "⛈ Thunderstorm"
	default:
		return "🌡 Unknown conditions"
	}
}
