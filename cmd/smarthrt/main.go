package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Agrid-Dev/smarthrt/cmd/app"
	httpctrl "github.com/Agrid-Dev/smarthrt/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/smarthrt/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/smarthrt/internal/controllers/mqtt"
	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/logger"
	"github.com/Agrid-Dev/smarthrt/internal/registry"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/sensors"
	"github.com/Agrid-Dev/smarthrt/internal/store"
	"github.com/Agrid-Dev/smarthrt/internal/weather"
)

// runner is a long-lived component stopped by canceling its context.
type runner struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.Parse()

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	lg := logger.New(cfg.Log.Level)
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Errorw("smarthrt exited", "error", err)
		os.Exit(1)
	}
	lg.Infow("smarthrt stopped")
}

func run(ctx context.Context, cfg app.Config, lg *logger.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	backend, err := store.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			lg.Errorw("close storage", "error", cerr)
		}
	}()

	src := newWeatherSource(cfg.Weather)
	clock := schedule.NewRealClock(loc)
	reg := registry.New(lg)

	var bindings []sensors.Binding
	for _, in := range cfg.Instances {
		stop, err := startInstance(ctx, reg, in.Heating(cfg.Weather), heating.Deps{
			Clock:   clock,
			Weather: src,
			Store:   backend,
			Log:     lg,
		})
		if err != nil {
			return err
		}
		defer stop()
		if in.InteriorTopic != "" || in.AlarmTopic != "" {
			bindings = append(bindings, sensors.Binding{
				InstanceID:    in.ID,
				InteriorTopic: in.InteriorTopic,
				AlarmTopic:    in.AlarmTopic,
			})
		}
		lg.Infow("instance started", "instance", in.ID)
	}

	runners, err := buildRunners(cfg, reg, bindings, lg)
	if err != nil {
		return err
	}
	if len(runners) == 0 {
		lg.Warnw("no controller enabled; instances run without a control surface")
	}
	return runAll(ctx, runners, lg)
}

func newWeatherSource(cfg app.WeatherConfig) weather.Source {
	if cfg.Provider == "openmeteo" {
		return weather.NewOpenMeteo(weather.OpenMeteoConfig{
			BaseURL:   cfg.BaseURL,
			Latitude:  cfg.Latitude,
			Longitude: cfg.Longitude,
			Timeout:   cfg.Timeout,
		})
	}
	return weather.NewStatic(cfg.Static.Temperature, cfg.Static.WindKmh)
}

func buildRunners(cfg app.Config, reg *registry.Registry, bindings []sensors.Binding, lg *logger.Logger) ([]runner, error) {
	var runners []runner

	if h := cfg.Controllers.HTTP; h.Enabled {
		srv := httpctrl.New(reg, h.Addr, lg)
		runners = append(runners, runner{"http", srv.Run})
		lg.Infow("http controller enabled", "addr", h.Addr)
	}

	if m := cfg.Controllers.MQTT; m.Enabled {
		c, err := mqttctrl.New(reg, mqttctrl.Config{
			BrokerURL:       m.BrokerURL,
			ClientID:        m.ClientID,
			BaseTopic:       m.BaseTopic,
			QoS:             m.QoS,
			RetainSnapshot:  m.RetainSnapshot,
			PublishInterval: m.PublishInterval,
			Username:        m.Username,
			Password:        m.Password,
		}, lg)
		if err != nil {
			return nil, err
		}
		runners = append(runners, runner{"mqtt", c.Run})
	}

	if m := cfg.Controllers.MODBUS; m.Enabled {
		svc, err := reg.Resolve(m.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("modbus: %w", err)
		}
		c, err := modbusctrl.New(svc, modbusctrl.Config{Addr: m.Addr, UnitID: m.UnitID}, lg)
		if err != nil {
			return nil, err
		}
		runners = append(runners, runner{"modbus", c.Run})
	}

	if len(bindings) > 0 {
		s := cfg.Sensors
		feed, err := sensors.NewFeed(reg, sensors.Config{
			BrokerURL: s.BrokerURL,
			ClientID:  s.ClientID,
			QoS:       s.QoS,
			Username:  s.Username,
			Password:  s.Password,
		}, bindings, lg)
		if err != nil {
			return nil, err
		}
		runners = append(runners, runner{"sensors", feed.Run})
	}
	return runners, nil
}

// runAll runs every runner until ctx is canceled or one of them fails.
func runAll(ctx context.Context, runners []runner, lg *logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(runners))
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				lg.Errorw("component failed", "component", r.name, "error", err)
				errCh <- fmt.Errorf("%s: %w", r.name, err)
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// startInstance starts a coordinator and registers it. stop deregisters the
// instance, then closes it.
func startInstance(ctx context.Context, reg *registry.Registry, cfg heating.Config, deps heating.Deps) (stop func(), err error) {
	c, err := heating.New(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("instance %q: %w", cfg.ID, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start instance %q: %w", cfg.ID, err)
	}
	if err := reg.Register(c); err != nil {
		_ = c.Close()
		return nil, err
	}
	lg := deps.Log
	if lg == nil {
		lg = logger.Nop()
	}
	return func() {
		reg.Deregister(c.ID())
		if cerr := c.Close(); cerr != nil {
			lg.Errorw("close instance", "instance", c.ID(), "error", cerr)
		}
	}, nil
}
