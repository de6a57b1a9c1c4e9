// Package weather provides exterior conditions: live observations, a short
// hourly forecast, and the averages the recovery solver consumes.
package weather

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ForecastHours is how many leading hourly entries are averaged.
const ForecastHours = 3

var ErrUnavailable = errors.New("weather unavailable")

// Observation is the instantaneous exterior condition.
type Observation struct {
	Time         time.Time
	TemperatureC float64
	WindKmh      float64
}

// ForecastPoint is one hourly forecast entry.
type ForecastPoint struct {
	Time         time.Time
	TemperatureC float64
	WindKmh      float64
}

// Source is anything that can report current and forecast conditions.
type Source interface {
	Current(ctx context.Context) (Observation, error)
	Hourly(ctx context.Context) ([]ForecastPoint, error)
}

// Average returns the mean temperature and wind of the first n points.
// It fails when there are no points.
func Average(points []ForecastPoint, n int) (tempC, windKmh float64, ok bool) {
	if n > len(points) {
		n = len(points)
	}
	if n <= 0 {
		return 0, 0, false
	}
	for _, p := range points[:n] {
		tempC += p.TemperatureC
		windKmh += p.WindKmh
	}
	return tempC / float64(n), windKmh / float64(n), true
}

// Static is a Source with fixed, replaceable values.
type Static struct {
	mu       sync.RWMutex
	current  Observation
	forecast []ForecastPoint
	err      error
}

func NewStatic(tempC, windKmh float64, forecast ...ForecastPoint) *Static {
	return &Static{
		current:  Observation{TemperatureC: tempC, WindKmh: windKmh},
		forecast: forecast,
	}
}

func (s *Static) Current(_ context.Context) (Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Observation{}, s.err
	}
	return s.current, nil
}

func (s *Static) Hourly(_ context.Context) ([]ForecastPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.forecast) == 0 {
		return nil, ErrUnavailable
	}
	return append([]ForecastPoint(nil), s.forecast...), nil
}

// Set replaces the current observation.
func (s *Static) Set(tempC, windKmh float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = Observation{TemperatureC: tempC, WindKmh: windKmh}
}

// SetForecast replaces the hourly forecast. An empty forecast makes Hourly fail.
func (s *Static) SetForecast(points ...ForecastPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecast = points
}

// Fail makes every call return err until it is called again with nil.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
