package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const DefaultOpenMeteoURL = "https://api.open-meteo.com"

// Open-Meteo reports local times without offset; we always ask for GMT.
const openMeteoTimeLayout = "2006-01-02T15:04"

type OpenMeteoConfig struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	Timeout   time.Duration
	// Hours of hourly forecast requested, starting at the current hour.
	Hours int
}

// OpenMeteo queries the Open-Meteo forecast API.
type OpenMeteo struct {
	cfg    OpenMeteoConfig
	client *http.Client
}

func NewOpenMeteo(cfg OpenMeteoConfig) *OpenMeteo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenMeteoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Hours <= 0 {
		cfg.Hours = 2 * ForecastHours
	}
	return &OpenMeteo{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type openMeteoResponse struct {
	Current struct {
		Time        string  `json:"time"`
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Hourly struct {
		Time        []string   `json:"time"`
		Temperature []*float64 `json:"temperature_2m"`
		WindSpeed   []*float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
}

func (o *OpenMeteo) fetch(ctx context.Context, q url.Values) (openMeteoResponse, error) {
	var out openMeteoResponse

	q.Set("latitude", strconv.FormatFloat(o.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(o.cfg.Longitude, 'f', -1, 64))
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "GMT")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("%w: open-meteo status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%w: decode open-meteo: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (o *OpenMeteo) Current(ctx context.Context) (Observation, error) {
	r, err := o.fetch(ctx, url.Values{"current": {"temperature_2m,wind_speed_10m"}})
	if err != nil {
		return Observation{}, err
	}
	at, err := time.ParseInLocation(openMeteoTimeLayout, r.Current.Time, time.UTC)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: bad time %q", ErrUnavailable, r.Current.Time)
	}
	return Observation{
		Time:         at,
		TemperatureC: r.Current.Temperature,
		WindKmh:      r.Current.WindSpeed,
	}, nil
}

// Hourly returns the forecast from the current hour on. Entries with a
// missing temperature or wind are skipped.
func (o *OpenMeteo) Hourly(ctx context.Context) ([]ForecastPoint, error) {
	r, err := o.fetch(ctx, url.Values{
		"hourly":         {"temperature_2m,wind_speed_10m"},
		"forecast_hours": {strconv.Itoa(o.cfg.Hours)},
	})
	if err != nil {
		return nil, err
	}
	h := r.Hourly
	n := min(len(h.Time), len(h.Temperature), len(h.WindSpeed))
	points := make([]ForecastPoint, 0, n)
	for i := 0; i < n; i++ {
		if h.Temperature[i] == nil || h.WindSpeed[i] == nil {
			continue
		}
		at, err := time.ParseInLocation(openMeteoTimeLayout, h.Time[i], time.UTC)
		if err != nil {
			continue
		}
		points = append(points, ForecastPoint{Time: at, TemperatureC: *h.Temperature[i], WindKmh: *h.WindSpeed[i]})
	}
	if len(points) == 0 {
		return nil, ErrUnavailable
	}
	return points, nil
}
