package schedule

import (
	"sync"
	"time"
)

// Kind identifies a trigger. Each kind has at most one armed timer.
type Kind int

const (
	KindUnknown Kind = iota
	KindRecoveryCalcHour
	KindTargetHour
	KindRecoveryStart
	KindRecoveryUpdate
	KindTick
	KindForecast
)

func (k Kind) String() string {
	switch k {
	case KindRecoveryCalcHour:
		return "recoverycalc_hour"
	case KindTargetHour:
		return "target_hour"
	case KindRecoveryStart:
		return "recovery_start"
	case KindRecoveryUpdate:
		return "recovery_update"
	case KindTick:
		return "tick"
	case KindForecast:
		return "forecast"
	default:
		return "unknown"
	}
}

type entry struct {
	timer Timer
	at    time.Time
	gen   uint64
}

// Scheduler owns one authoritative timer per Kind. Arming a kind replaces
// its previous timer; a replaced timer that already started firing is
// discarded before its callback runs.
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	entries map[Kind]entry
	gen     uint64
	closed  bool
}

func New(clock Clock) *Scheduler {
	return &Scheduler{
		clock:   clock,
		entries: make(map[Kind]entry),
	}
}

func (s *Scheduler) Clock() Clock { return s.clock }

// At arms kind to call fn once at the absolute instant at. Instants in the
// past fire as soon as possible. fn receives the instant it was armed for.
func (s *Scheduler) At(kind Kind, at time.Time, fn func(at time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked(kind)

	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(d, func() {
		if !s.claim(kind, gen) {
			return
		}
		fn(at)
	})
	s.entries[kind] = entry{timer: t, at: at, gen: gen}
}

// Every calls fn every interval until the kind is cancelled or the scheduler stops.
func (s *Scheduler) Every(kind Kind, interval time.Duration, fn func(now time.Time)) {
	if interval <= 0 {
		return
	}
	s.At(kind, s.clock.Now().Add(interval), func(time.Time) {
		s.Every(kind, interval, fn)
		fn(s.clock.Now())
	})
}

// claim consumes the entry for kind if it still belongs to generation gen.
func (s *Scheduler) claim(kind Kind, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[kind]
	if s.closed || !ok || e.gen != gen {
		return false
	}
	delete(s.entries, kind)
	return true
}

// Deadline returns the instant kind is armed for.
func (s *Scheduler) Deadline(kind Kind) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[kind]
	return e.at, ok
}

func (s *Scheduler) Cancel(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(kind)
}

func (s *Scheduler) stopLocked(kind Kind) {
	if e, ok := s.entries[kind]; ok {
		e.timer.Stop()
		delete(s.entries, kind)
	}
}

// Stop cancels every timer. Later calls to At and Every are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		s.stopLocked(k)
	}
	s.closed = true
}
