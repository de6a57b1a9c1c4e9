// Package heating runs the overnight recovery cycle of one building: it tracks
// the cooling after heating stops, predicts when heating must restart to reach
// the setpoint at the target hour, and learns the thermal coefficients from
// each observed cycle.
//
// All state lives in a Coordinator. Its methods are safe for concurrent use:
// state changes happen under one mutex, and listeners, persistence and the
// learning log run after the mutex is released.
package heating

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/logger"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/store"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
	"github.com/Agrid-Dev/smarthrt/internal/weather"
)

const (
	DefaultTickInterval     = time.Minute
	DefaultForecastInterval = 30 * time.Minute
	DefaultWindWindow       = time.Hour

	fetchTimeout = 15 * time.Second
)

// Config is the initial configuration of an instance. Persisted values take
// precedence over it once a state has been saved.
type Config struct {
	ID               string
	Name             string
	Setpoint         float64
	TargetHour       schedule.TimeOfDay
	RecoveryCalcHour schedule.TimeOfDay
	RelaxationFactor float64
	SmartHeating     bool
	Adaptive         bool

	TickInterval     time.Duration
	ForecastInterval time.Duration
	WindWindow       time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.ID == "" {
		return ErrMissingInstanceID
	}
	if !validSetpoint(cfg.Setpoint) {
		return ErrSetpointOutOfRange
	}
	if !validRelaxation(cfg.RelaxationFactor) {
		return ErrInvalidRelaxationFactor
	}
	if !cfg.TargetHour.Valid() || !cfg.RecoveryCalcHour.Valid() {
		return schedule.ErrInvalidTimeOfDay
	}
	return nil
}

// Deps are the collaborators of a Coordinator. Weather and Store are optional.
type Deps struct {
	Clock   schedule.Clock
	Weather weather.Source
	Store   store.Backend
	Log     *logger.Logger
}

// ListenerID identifies a registered listener.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn func(Snapshot)
}

// effects are collected while the state is locked and applied after.
type effects struct {
	persist bool
	cycles  []store.Cycle
}

type Coordinator struct {
	id      string
	log     *logger.Logger
	clock   schedule.Clock
	sched   *schedule.Scheduler
	weather weather.Source
	backend store.Backend
	wind    *weather.RollingAverage

	tickInterval     time.Duration
	forecastInterval time.Duration

	mu      sync.Mutex
	s       Snapshot
	seq     uint64
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	lmu       sync.Mutex
	listeners []listener
	nextID    ListenerID

	saveMu   sync.Mutex
	savedSeq uint64
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = schedule.NewRealClock(time.Local)
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ForecastInterval <= 0 {
		cfg.ForecastInterval = DefaultForecastInterval
	}
	if cfg.WindWindow <= 0 {
		cfg.WindWindow = DefaultWindWindow
	}

	c := &Coordinator{
		id:               cfg.ID,
		log:              deps.Log.With("instance", cfg.ID),
		clock:            deps.Clock,
		sched:            schedule.New(deps.Clock),
		weather:          deps.Weather,
		backend:          deps.Store,
		wind:             weather.NewRollingAverage(cfg.WindWindow),
		tickInterval:     cfg.TickInterval,
		forecastInterval: cfg.ForecastInterval,
		ctx:              context.Background(),
	}
	c.s = Snapshot{
		ID:               cfg.ID,
		Name:             cfg.Name,
		Setpoint:         cfg.Setpoint,
		TargetHour:       cfg.TargetHour,
		RecoveryCalcHour: cfg.RecoveryCalcHour,
		RelaxationFactor: cfg.RelaxationFactor,
		SmartHeating:     cfg.SmartHeating,
		Adaptive:         cfg.Adaptive,
		RCth:             defaultRCth(),
		RPth:             defaultRPth(),
		Phase:            PhaseHeatingOn,
	}
	return c, nil
}

func (c *Coordinator) ID() string { return c.id }

// Get returns a copy of the current state.
func (c *Coordinator) Get() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Now is the coordinator's clock reading.
func (c *Coordinator) Now() time.Time { return c.clock.Now() }

// Start restores the persisted state, reads the weather, arms every trigger
// and runs a first prediction. It does not block.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.load(ctx)
	obs, obsErr := c.fetchCurrent()
	points, fcErr := c.fetchForecast()

	c.update(func(now time.Time, fx *effects) {
		if obsErr == nil {
			c.applyObservationLocked(now, obs)
		}
		if fcErr == nil {
			c.applyForecastLocked(points)
		}
		c.setupTriggersLocked(now)
		if c.coolingLocked() && c.s.RecoveryStartHour.After(now) {
			c.sched.At(schedule.KindRecoveryStart, c.s.RecoveryStartHour, c.onRecoveryStartTrigger)
		}
		c.calculateRecoveryLocked(now)
		if c.s.SmartHeating && c.s.RecoveryCalcMode {
			c.scheduleUpdateLocked(now)
		}
	})

	c.sched.Every(schedule.KindTick, c.tickInterval, c.onTick)
	c.sched.Every(schedule.KindForecast, c.forecastInterval, c.onForecast)
	c.log.Infow("coordinator started", "phase", c.Get().Phase.String())
	return nil
}

// Close stops every timer and saves the state one last time.
func (c *Coordinator) Close() error {
	c.sched.Stop()
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	c.seq++
	snap, seq := c.s, c.seq
	c.mu.Unlock()
	return c.save(context.Background(), snap, seq)
}

// AddListener registers fn to receive a snapshot after every change.
// Listeners are called synchronously, in registration order.
func (c *Coordinator) AddListener(fn func(Snapshot)) ListenerID {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.nextID++
	c.listeners = append(c.listeners, listener{id: c.nextID, fn: fn})
	return c.nextID
}

func (c *Coordinator) RemoveListener(id ListenerID) bool {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) notify(snap Snapshot) {
	c.lmu.Lock()
	ls := append([]listener(nil), c.listeners...)
	c.lmu.Unlock()
	for _, l := range ls {
		l.fn(snap)
	}
}

// update runs fn with the state locked, then applies the collected effects
// and notifies listeners. It returns the resulting snapshot.
func (c *Coordinator) update(fn func(now time.Time, fx *effects)) Snapshot {
	var fx effects
	c.mu.Lock()
	fn(c.clock.Now(), &fx)
	c.seq++
	snap, seq, ctx := c.s, c.seq, c.ctx
	c.mu.Unlock()

	for _, cy := range fx.cycles {
		if c.backend == nil {
			break
		}
		if err := c.backend.AppendCycle(ctx, cy); err != nil {
			c.log.Errorw("append learning cycle", "kind", cy.Kind, "error", err)
		}
	}
	if fx.persist {
		if err := c.save(ctx, snap, seq); err != nil {
			c.log.Errorw("save state", "error", err)
		}
	}
	c.notify(snap)
	return snap
}

// save writes snap unless a newer state was already written.
func (c *Coordinator) save(ctx context.Context, snap Snapshot, seq uint64) error {
	if c.backend == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if seq <= c.savedSeq {
		return nil
	}
	rec, err := encodeRecord(&snap)
	if err != nil {
		return err
	}
	if err := c.backend.Save(ctx, c.id, rec); err != nil {
		return fmt.Errorf("save %s: %w", c.id, err)
	}
	c.savedSeq = seq
	return nil
}

func (c *Coordinator) load(ctx context.Context) {
	if c.backend == nil {
		return
	}
	rec, err := c.backend.Load(ctx, c.id)
	if err != nil {
		c.log.Errorw("load state, using defaults", "error", err)
		return
	}
	if rec == nil {
		c.log.Infow("no saved state, using configuration")
		return
	}
	loc := c.clock.Now().Location()
	c.mu.Lock()
	bad := applyRecord(&c.s, rec, loc)
	if !c.s.Phase.Valid() {
		c.s.Phase = PhaseHeatingOn
	}
	c.mu.Unlock()
	if len(bad) > 0 {
		c.log.Warnw("ignored unreadable saved fields", "keys", bad)
	}
}

// checkpointLocked captures the live temperatures at now.
func (c *Coordinator) checkpointLocked(now time.Time) thermal.Checkpoint {
	cp := thermal.Checkpoint{Time: now, Interior: fallbackInterior, Exterior: fallbackExterior}
	if c.s.Interior != nil {
		cp.Interior = *c.s.Interior
	}
	if c.s.Exterior != nil {
		cp.Exterior = *c.s.Exterior
	}
	return cp
}

// solverWindLocked is the wind fed to the recovery solver: the forecast
// average when known, else the rolling average, else the live wind.
func (c *Coordinator) solverWindLocked() float64 {
	if c.s.ForecastWindKmh != nil {
		return *c.s.ForecastWindKmh
	}
	return c.learningWindLocked()
}

// learningWindLocked is the wind used to weight learning steps.
func (c *Coordinator) learningWindLocked() float64 {
	if c.s.WindAverageKmh != nil {
		return *c.s.WindAverageKmh
	}
	return c.s.WindKmh
}
