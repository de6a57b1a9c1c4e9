// Package sensors feeds interior temperature and phone alarm readings,
// received as MQTT state messages, into heating instances.
package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/smarthrt/internal/logger"
	"github.com/Agrid-Dev/smarthrt/internal/ports"
)

var ErrUnavailable = errors.New("sensor state unavailable")

// Binding maps the sensor topics of one instance. Empty topics are not followed.
type Binding struct {
	InstanceID    string
	InteriorTopic string
	AlarmTopic    string
}

type Config struct {
	BrokerURL string
	ClientID  string
	QoS       byte

	Username string
	Password string
}

type route struct {
	instance string
	alarm    bool
}

// Feed subscribes to the bound topics and forwards every valid reading.
type Feed struct {
	dir ports.Directory
	cfg Config
	log *logger.Logger

	routes map[string]route
	client mqtt.Client
}

func NewFeed(dir ports.Directory, cfg Config, bindings []Binding, log *logger.Logger) (*Feed, error) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "smarthrt-sensors"
	}
	if cfg.QoS > 1 {
		return nil, errors.New("sensors: QoS must be 0 or 1")
	}
	if log == nil {
		log = logger.Nop()
	}
	routes := map[string]route{}
	for _, b := range bindings {
		if b.InteriorTopic != "" {
			routes[b.InteriorTopic] = route{instance: b.InstanceID}
		}
		if b.AlarmTopic != "" {
			routes[b.AlarmTopic] = route{instance: b.InstanceID, alarm: true}
		}
	}
	return &Feed{dir: dir, cfg: cfg, log: log.With("component", "sensors"), routes: routes}, nil
}

// Topics lists the followed topics.
func (f *Feed) Topics() []string {
	out := make([]string, 0, len(f.routes))
	for t := range f.routes {
		out = append(out, t)
	}
	return out
}

func (f *Feed) Run(ctx context.Context) error {
	if len(f.routes) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(f.cfg.BrokerURL).
		SetClientID(f.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if f.cfg.Username != "" {
		opts.SetUsername(f.cfg.Username)
		opts.SetPassword(f.cfg.Password)
	}

	// Retained states arrive on (re)subscription and serve as the initial reading.
	opts.OnConnect = func(cl mqtt.Client) {
		filters := make(map[string]byte, len(f.routes))
		for t := range f.routes {
			filters[t] = f.cfg.QoS
		}
		token := cl.SubscribeMultiple(filters, f.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			f.log.Errorw("subscribe failed", "error", err)
		}
	}

	f.client = mqtt.NewClient(opts)
	tok := f.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("sensors connect: %w", err)
	}

	<-ctx.Done()
	f.client.Disconnect(250)
	return ctx.Err()
}

func (f *Feed) onMessage(_ mqtt.Client, msg mqtt.Message) {
	r, ok := f.routes[msg.Topic()]
	if !ok {
		return
	}
	svc, err := f.dir.Resolve(r.instance)
	if err != nil {
		f.log.Warnw("reading for unknown instance", "instance", r.instance, "error", err)
		return
	}
	raw, err := ParseState(msg.Payload())
	if err != nil {
		f.log.Debugw("sensor state ignored", "topic", msg.Topic(), "error", err)
		return
	}
	if r.alarm {
		svc.UpdatePhoneAlarm(raw)
		return
	}
	v, err := ParseTemperature(raw)
	if err != nil {
		f.log.Warnw("unusable temperature", "topic", msg.Topic(), "value", raw, "error", err)
		return
	}
	svc.UpdateInteriorTemperature(v)
}

// ParseTemperature reads a temperature state. Non-finite values are treated
// as unavailable.
func ParseTemperature(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrUnavailable
	}
	return v, nil
}

// ParseState extracts the state string of a sensor message. The payload is
// either the bare state or a JSON object carrying it in "state" or "value".
// "unavailable", "unknown" and "nan" states are rejected with ErrUnavailable.
func ParseState(payload []byte) (string, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return "", fmt.Errorf("invalid json state: %w", err)
		}
		v, ok := obj["state"]
		if !ok {
			v, ok = obj["value"]
		}
		if !ok || v == nil {
			return "", ErrUnavailable
		}
		s = strings.TrimSpace(fmt.Sprint(v))
	}
	s = strings.Trim(s, `"`)
	switch strings.ToLower(s) {
	case "", "unavailable", "unknown", "none", "nan":
		return "", ErrUnavailable
	}
	return s, nil
}
