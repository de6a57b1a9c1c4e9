package weather

import (
	"sync"
	"time"
)

type sample struct {
	at time.Time
	v  float64
}

// RollingAverage is the mean of the samples received within a trailing window.
type RollingAverage struct {
	window time.Duration

	mu      sync.Mutex
	samples []sample
}

func NewRollingAverage(window time.Duration) *RollingAverage {
	return &RollingAverage{window: window}
}

// Add records v at time at and drops samples that fell out of the window.
func (r *RollingAverage) Add(at time.Time, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{at: at, v: v})
	r.pruneLocked(at)
}

func (r *RollingAverage) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.samples) && r.samples[i].at.Before(cutoff) {
		i++
	}
	r.samples = r.samples[i:]
}

// Mean returns the average of the retained samples.
func (r *RollingAverage) Mean() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, s := range r.samples {
		sum += s.v
	}
	return sum / float64(len(r.samples)), true
}

func (r *RollingAverage) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}
