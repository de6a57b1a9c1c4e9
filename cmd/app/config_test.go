package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
)

func TestEnvKeyTransform_TopLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TIMEZONE", "timezone"},
		{"LOG_LEVEL", "log.level"},
		{"LOG", "log"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		got := envKeyTransform(tt.in)
		if got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvKeyTransform_Controllers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CONTROLLERS_HTTP_ADDR", "controllers.http.addr"},
		{"CONTROLLERS_MQTT_PUBLISH_INTERVAL", "controllers.mqtt.publish_interval"},
		{"CONTROLLERS_MODBUS_UNIT_ID", "controllers.modbus.unit_id"},
		{"CONTROLLERS_MODBUS_INSTANCE_ID", "controllers.modbus.instance_id"},
		{"CONTROLLERS_HTTP", "controllers_http"},   // not enough parts -> fallback
		{"CONTROLLERS__ADDR", "controllers..addr"}, // edge case
		{"controllers_HTTP_addr", "controllers.http.addr"},
	}

	for _, tt := range tests {
		got := envKeyTransform(tt.in)
		if got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvKeyTransform_Sections(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"STORAGE_PATH", "storage.path"},
		{"STORAGE_DRIVER", "storage.driver"},
		{"WEATHER_POLL_INTERVAL", "weather.poll_interval"},
		{"WEATHER_BASE_URL", "weather.base_url"},
		{"WEATHER_STATIC_WIND_KMH", "weather.static.wind_kmh"},
		{"WEATHER_STATIC", "weather.static"},
		{"WEATHER", "weather"}, // not enough parts -> passthrough
		{"SENSORS_BROKER_URL", "sensors.broker_url"},
		{"INSTANCES", "instances"},
	}

	for _, tt := range tests {
		got := envKeyTransform(tt.in)
		if got != tt.want {
			t.Fatalf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Controllers.HTTP.Addr != ":8080" || !cfg.Controllers.HTTP.Enabled {
		t.Fatalf("http defaults = %+v", cfg.Controllers.HTTP)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage driver = %q", cfg.Storage.Driver)
	}
	if cfg.Weather.PollInterval != heating.DefaultTickInterval {
		t.Fatalf("poll interval = %v", cfg.Weather.PollInterval)
	}
	if len(cfg.Instances) != 1 || cfg.Instances[0].ID != "default" {
		t.Fatalf("instances = %+v", cfg.Instances)
	}
	if cfg.Controllers.MODBUS.InstanceID != "default" {
		t.Fatalf("modbus instance = %q", cfg.Controllers.MODBUS.InstanceID)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
timezone: Europe/Paris
storage:
  driver: file
  path: /tmp/state.yaml
weather:
  provider: openmeteo
  latitude: 48.85
  longitude: 2.35
  poll_interval: 2m
controllers:
  mqtt:
    enabled: true
    base_topic: house
instances:
  - id: living
    name: Living room
    tsp: 20.5
    target_hour: "06:30"
    smartheating_mode: false
    sensor_interior_temperature: sensors/living/temp
  - id: bedroom
    target_hour: "late"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "/tmp/state.yaml" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Weather.Provider != "openmeteo" || cfg.Weather.Latitude != 48.85 {
		t.Fatalf("weather = %+v", cfg.Weather)
	}
	if cfg.Weather.PollInterval != 2*time.Minute {
		t.Fatalf("poll interval = %v", cfg.Weather.PollInterval)
	}
	// untouched keys keep their defaults
	if cfg.Weather.ForecastInterval != heating.DefaultForecastInterval {
		t.Fatalf("forecast interval = %v", cfg.Weather.ForecastInterval)
	}
	if !cfg.Controllers.MQTT.Enabled || cfg.Controllers.MQTT.BaseTopic != "house" {
		t.Fatalf("mqtt = %+v", cfg.Controllers.MQTT)
	}
	if cfg.Controllers.MQTT.ClientID != "smarthrt-controller" {
		t.Fatalf("mqtt client id = %q", cfg.Controllers.MQTT.ClientID)
	}
	if len(cfg.Instances) != 2 {
		t.Fatalf("instances = %+v", cfg.Instances)
	}
	if cfg.Instances[0].InteriorTopic != "sensors/living/temp" {
		t.Fatalf("interior topic = %q", cfg.Instances[0].InteriorTopic)
	}

	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Paris" {
		t.Fatalf("location = %v, %v", loc, err)
	}

	living := cfg.Instances[0].Heating(cfg.Weather)
	if living.Name != "Living room" || living.Setpoint != 20.5 || living.SmartHeating {
		t.Fatalf("living = %+v", living)
	}
	if living.TargetHour != (schedule.TimeOfDay{Hour: 6, Minute: 30}) {
		t.Fatalf("living target hour = %v", living.TargetHour)
	}
	if living.TickInterval != 2*time.Minute {
		t.Fatalf("tick interval = %v", living.TickInterval)
	}

	bedroom := cfg.Instances[1].Heating(cfg.Weather)
	if bedroom.Name != "bedroom" || bedroom.Setpoint != heating.DefaultSetpoint {
		t.Fatalf("bedroom = %+v", bedroom)
	}
	if bedroom.TargetHour != heating.DefaultTargetHour || bedroom.RecoveryCalcHour != heating.DefaultRecoveryCalcHour {
		t.Fatalf("bedroom hours = %v %v", bedroom.TargetHour, bedroom.RecoveryCalcHour)
	}
	if !bedroom.Adaptive {
		t.Fatalf("adaptive default should be on")
	}
	if err := bedroom.Validate(); err != nil {
		t.Fatalf("bedroom config invalid: %v", err)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "log": {"level": "debug"},
  "controllers": {"modbus": {"enabled": true, "unit_id": 7, "instance_id": "b"}},
  "instances": [{"id": "a"}, {"id": "b"}]
}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	m := cfg.Controllers.MODBUS
	if !m.Enabled || m.UnitID != 7 || m.InstanceID != "b" || m.Addr != "127.0.0.1:1502" {
		t.Fatalf("modbus = %+v", m)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", "controllers:\n  http:\n    addr: \":9000\"\n")
	t.Setenv("SMARTHRT_CONTROLLERS_HTTP_ADDR", ":9100")
	t.Setenv("SMARTHRT_STORAGE_DRIVER", "memory")
	t.Setenv("SMARTHRT_WEATHER_STATIC_TEMPERATURE", "-3.5")
	t.Setenv("SMARTHRT_CONTROLLERS_MQTT_PUBLISH_INTERVAL", "30s")
	t.Setenv("PORT", "7000")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Controllers.HTTP.Addr != ":9100" {
		t.Fatalf("http addr = %q", cfg.Controllers.HTTP.Addr)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("storage driver = %q", cfg.Storage.Driver)
	}
	if cfg.Weather.Static.Temperature != -3.5 {
		t.Fatalf("static temperature = %v", cfg.Weather.Static.Temperature)
	}
	if cfg.Controllers.MQTT.PublishInterval != 30*time.Second {
		t.Fatalf("publish interval = %v", cfg.Controllers.MQTT.PublishInterval)
	}
}

func TestLoadConfig_Port(t *testing.T) {
	t.Setenv("PORT", "7000")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Controllers.HTTP.Addr != ":7000" {
		t.Fatalf("http addr = %q", cfg.Controllers.HTTP.Addr)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr error
	}{
		{"extension", "config.toml", "x = 1", ErrUnsupportedExtension},
		{"duplicate", "config.yaml", "instances:\n  - id: a\n  - id: a\n", ErrDuplicateInstance},
		{"missing id", "config.yaml", "instances:\n  - name: nameless\n", ErrMissingInstanceID},
		{"provider", "config.yaml", "weather:\n  provider: satellite\n", ErrUnknownProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, tt.file, tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_BadTimezone(t *testing.T) {
	if _, err := LoadConfig(writeFile(t, "config.yaml", "timezone: Mars/Olympus\n")); err == nil {
		t.Fatalf("expected timezone error")
	}
}
