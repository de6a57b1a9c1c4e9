package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/smarthrt/internal/command"
	"github.com/Agrid-Dev/smarthrt/internal/controllers/view"
	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/logger"
	"github.com/Agrid-Dev/smarthrt/internal/ports"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
)

type Config struct {
	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics: <BaseTopic>/<instance>/...
	BaseTopic string

	// Behavior
	QoS             byte
	RetainSnapshot  bool
	PublishInterval time.Duration

	Username string
	Password string
}

type Controller struct {
	dir ports.Directory
	cfg Config
	log *logger.Logger

	client mqtt.Client
	last   map[string]heating.Snapshot
}

func New(dir ports.Directory, cfg Config, log *logger.Logger) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "smarthrt"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "smarthrt-controller"
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 5 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{
		dir:  dir,
		cfg:  cfg,
		log:  log.With("controller", "mqtt"),
		last: map[string]heating.Snapshot{},
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		for _, topic := range []string{c.topic("+", "set/+"), c.topic("+", "cmd/+")} {
			token := cl.Subscribe(topic, c.cfg.QoS, c.onMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				c.log.Errorw("subscribe failed", "topic", topic, "error", err)
			}
		}
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	// Publish loop: publish snapshots on interval, and only when changed.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	// publish immediately once
	c.publishChanged()

	for {
		select {
		case <-ctx.Done():
			c.client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			c.publishChanged()
		}
	}
}

func (c *Controller) publishChanged() {
	for _, svc := range c.dir.List() {
		cur := svc.Get()
		if last, seen := c.last[svc.ID()]; seen && reflect.DeepEqual(cur, last) {
			continue
		}
		c.publishSnapshot(svc)
		c.last[svc.ID()] = cur
	}
}

func (c *Controller) publishSnapshot(svc ports.HeatingService) {
	b, _ := json.Marshal(view.FromSnapshot(svc.Get(), svc.Now()))
	c.client.Publish(c.topic(svc.ID(), "snapshot"), c.cfg.QoS, c.cfg.RetainSnapshot, b)
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic format: <base>/<instance>/(set|cmd)/<name>
	t := msg.Topic()
	prefix := strings.TrimRight(c.cfg.BaseTopic, "/") + "/"
	if !strings.HasPrefix(t, prefix) {
		return
	}
	parts := strings.Split(strings.TrimPrefix(t, prefix), "/")
	if len(parts) != 3 {
		return
	}
	id, verb, name := parts[0], parts[1], parts[2]

	svc, err := c.dir.Resolve(id)
	if err != nil {
		c.log.Warnw("message for unknown instance", "topic", t, "error", err)
		return
	}

	switch verb {
	case "set":
		if err := c.applySet(svc, name, msg.Payload()); err != nil {
			c.log.Warnw("set rejected", "topic", t, "error", err)
		}
	case "cmd":
		c.runCommand(svc, name)
	}
}

func (c *Controller) applySet(svc ports.HeatingService, field string, payload []byte) error {
	// Dispatch by field
	switch field {
	case "tsp":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return svc.SetSetpoint(v)

	case "target_hour":
		v, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		t, err := schedule.ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		return svc.SetTargetHour(t)

	case "recoverycalc_hour":
		v, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		t, err := schedule.ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		return svc.SetRecoveryCalcHour(t)

	case "relaxation_factor":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return svc.SetRelaxationFactor(v)

	case "smartheating_mode":
		v, err := decodeValueStrict[bool](payload)
		if err != nil {
			return err
		}
		svc.SetSmartHeating(v)

	case "recovery_adaptive_mode":
		v, err := decodeValueStrict[bool](payload)
		if err != nil {
			return err
		}
		svc.SetAdaptive(v)

	default:
		f, err := heating.ParseCoefficientField(field)
		if err != nil {
			return fmt.Errorf("unknown field %q", field)
		}
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return svc.SetCoefficient(f, v)
	}
	return nil
}

// runCommand executes a named command and publishes its result next to the
// command topic.
func (c *Controller) runCommand(svc ports.HeatingService, name string) {
	kind, err := command.ParseKind(name)
	var res command.Result
	if err != nil {
		res = command.Result{Error: err.Error()}
	} else {
		res = command.Execute(context.Background(), svc, kind)
	}
	b, _ := json.Marshal(res)
	c.client.Publish(c.topic(svc.ID(), "cmd/"+name+"/result"), c.cfg.QoS, false, b)
}

func (c *Controller) topic(instance, suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + instance + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
