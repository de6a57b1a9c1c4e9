package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
)

const envPrefix = "SMARTHRT_"

var (
	ErrUnsupportedExtension = errors.New("unsupported config extension")
	ErrDuplicateInstance    = errors.New("duplicate instance id")
	ErrMissingInstanceID    = errors.New("instance id is required")
	ErrUnknownProvider      = errors.New("unknown weather provider")
)

type Config struct {
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
	// Timezone is an IANA name; "Local" uses the host zone.
	Timezone string `koanf:"timezone"`

	Storage     StorageConfig     `koanf:"storage"`
	Weather     WeatherConfig     `koanf:"weather"`
	Controllers ControllersConfig `koanf:"controllers"`
	Sensors     SensorsConfig     `koanf:"sensors"`

	Instances []InstanceConfig `koanf:"instances"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // "sqlite" | "file" | "memory"
	Path   string `koanf:"path"`
}

type WeatherConfig struct {
	Provider  string        `koanf:"provider"` // "openmeteo" | "static"
	BaseURL   string        `koanf:"base_url"`
	Latitude  float64       `koanf:"latitude"`
	Longitude float64       `koanf:"longitude"`
	Timeout   time.Duration `koanf:"timeout"`

	PollInterval     time.Duration `koanf:"poll_interval"`
	ForecastInterval time.Duration `koanf:"forecast_interval"`
	WindWindow       time.Duration `koanf:"wind_window"`

	Static StaticWeatherConfig `koanf:"static"`
}

type StaticWeatherConfig struct {
	Temperature float64 `koanf:"temperature"`
	WindKmh     float64 `koanf:"wind_kmh"`
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http"`
	MQTT   MQTTConfig   `koanf:"mqtt"`
	MODBUS ModbusConfig `koanf:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainSnapshot  bool          `koanf:"retain_snapshot"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

type ModbusConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Addr       string `koanf:"addr"`
	UnitID     byte   `koanf:"unit_id"`
	InstanceID string `koanf:"instance_id"` // empty: first instance
}

type SensorsConfig struct {
	BrokerURL string `koanf:"broker_url"`
	ClientID  string `koanf:"client_id"`
	QoS       byte   `koanf:"qos"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

// InstanceConfig is one heating zone. Unset values take the built-in defaults.
type InstanceConfig struct {
	ID               string   `koanf:"id"`
	Name             string   `koanf:"name"`
	Setpoint         *float64 `koanf:"tsp"`
	TargetHour       string   `koanf:"target_hour"`
	RecoveryCalcHour string   `koanf:"recoverycalc_hour"`
	RelaxationFactor *float64 `koanf:"relaxation_factor"`
	SmartHeating     *bool    `koanf:"smartheating_mode"`
	Adaptive         *bool    `koanf:"adaptive_mode"`

	// MQTT topics of the interior thermometer and the phone alarm sensor.
	InteriorTopic string `koanf:"sensor_interior_temperature"`
	AlarmTopic    string `koanf:"phone_alarm_selector"`
}

func defaults() Config {
	var cfg Config
	cfg.Log.Level = "info"
	cfg.Timezone = "Local"
	cfg.Storage = StorageConfig{Driver: "sqlite", Path: "smarthrt.db"}
	cfg.Weather = WeatherConfig{
		Provider:         "static",
		Timeout:          10 * time.Second,
		PollInterval:     heating.DefaultTickInterval,
		ForecastInterval: heating.DefaultForecastInterval,
		WindWindow:       heating.DefaultWindWindow,
		Static:           StaticWeatherConfig{Temperature: 10},
	}
	cfg.Controllers.HTTP = HTTPConfig{Enabled: true, Addr: ":8080"}
	cfg.Controllers.MQTT = MQTTConfig{
		BrokerURL:       "tcp://localhost:1883",
		ClientID:        "smarthrt-controller",
		BaseTopic:       "smarthrt",
		PublishInterval: 5 * time.Second,
	}
	cfg.Controllers.MODBUS = ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1}
	cfg.Sensors = SensorsConfig{BrokerURL: "tcp://localhost:1883", ClientID: "smarthrt-sensors"}
	return cfg
}

// LoadConfig layers built-in defaults, the config file and SMARTHRT_*
// environment variables, in that order. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	// PORT is common in containers; an explicit address wins.
	if v := os.Getenv("PORT"); v != "" && os.Getenv(envPrefix+"CONTROLLERS_HTTP_ADDR") == "" {
		cfg.Controllers.HTTP.Addr = ":" + v
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Config file missing → use defaults
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("%w %q", ErrUnsupportedExtension, ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// envKeyTransform maps an environment key, prefix removed, to a koanf path.
// Section names are split off; the remainder keeps its underscores.
func envKeyTransform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	parts := strings.Split(s, "_")
	switch parts[0] {
	case "controllers":
		if len(parts) < 3 {
			return s
		}
		return "controllers." + parts[1] + "." + strings.Join(parts[2:], "_")
	case "weather":
		if len(parts) >= 3 && parts[1] == "static" {
			return "weather.static." + strings.Join(parts[2:], "_")
		}
		if len(parts) < 2 {
			return s
		}
		return "weather." + strings.Join(parts[1:], "_")
	case "log", "storage", "sensors":
		if len(parts) < 2 {
			return s
		}
		return parts[0] + "." + strings.Join(parts[1:], "_")
	}
	return s
}

func (c *Config) normalize() error {
	if len(c.Instances) == 0 {
		c.Instances = []InstanceConfig{{ID: "default"}}
	}
	seen := map[string]bool{}
	for i := range c.Instances {
		in := &c.Instances[i]
		in.ID = strings.TrimSpace(in.ID)
		if in.ID == "" {
			return fmt.Errorf("instances[%d]: %w", i, ErrMissingInstanceID)
		}
		if seen[in.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateInstance, in.ID)
		}
		seen[in.ID] = true
	}
	switch c.Weather.Provider {
	case "openmeteo", "static":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Weather.Provider)
	}
	if c.Controllers.MODBUS.InstanceID == "" {
		c.Controllers.MODBUS.InstanceID = c.Instances[0].ID
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Heating builds the coordinator configuration of an instance. Unparseable
// hours fall back to the defaults.
func (in InstanceConfig) Heating(w WeatherConfig) heating.Config {
	sp := heating.DefaultSetpoint
	relax := thermal.DefaultRelaxationFactor
	smart := true
	adaptive := true

	// Apply overrides if set
	if in.Setpoint != nil {
		sp = *in.Setpoint
	}
	if in.RelaxationFactor != nil {
		relax = *in.RelaxationFactor
	}
	if in.SmartHeating != nil {
		smart = *in.SmartHeating
	}
	if in.Adaptive != nil {
		adaptive = *in.Adaptive
	}

	name := in.Name
	if name == "" {
		name = in.ID
	}

	return heating.Config{
		ID:               in.ID,
		Name:             name,
		Setpoint:         sp,
		TargetHour:       schedule.ParseTimeOfDayOr(in.TargetHour, heating.DefaultTargetHour),
		RecoveryCalcHour: schedule.ParseTimeOfDayOr(in.RecoveryCalcHour, heating.DefaultRecoveryCalcHour),
		RelaxationFactor: relax,
		SmartHeating:     smart,
		Adaptive:         adaptive,
		TickInterval:     w.PollInterval,
		ForecastInterval: w.ForecastInterval,
		WindWindow:       w.WindWindow,
	}
}
