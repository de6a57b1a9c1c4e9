// Package store persists thermal state as flat key/value records and keeps a
// log of learning cycles.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrInvalidValue  = errors.New("invalid stored value")
)

// Record maps storage keys to their encoded values.
type Record map[string]string

func sortedKeys(rec Record) []string {
	return slices.Sorted(maps.Keys(rec))
}

// Kind is the value type of a persisted field.
type Kind int

const (
	KindFloat Kind = iota + 1
	KindBool
	KindString
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// Encode renders v, which must match kind, as a storable string. Times use
// ISO-8601 (RFC 3339); the zero time encodes as the empty string.
func Encode(kind Kind, v any) (string, error) {
	switch kind {
	case KindFloat:
		f, ok := v.(float64)
		if !ok {
			break
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			break
		}
		return strconv.FormatBool(b), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			break
		}
		return s, nil
	case KindTime:
		t, ok := v.(time.Time)
		if !ok {
			break
		}
		if t.IsZero() {
			return "", nil
		}
		return t.Format(time.RFC3339Nano), nil
	}
	return "", fmt.Errorf("%w: %v is not a %s", ErrInvalidValue, v, kind)
}

// Decode parses s according to kind.
func Decode(kind Kind, s string) (any, error) {
	switch kind {
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return f, nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return b, nil
	case KindString:
		return s, nil
	case KindTime:
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidValue, kind)
}

// Backend loads and saves one record per instance.
type Backend interface {
	// Load returns nil and no error when nothing was saved yet.
	Load(ctx context.Context, instanceID string) (Record, error)
	Save(ctx context.Context, instanceID string, rec Record) error
	AppendCycle(ctx context.Context, c Cycle) error
	Cycles(ctx context.Context, instanceID string, limit int) ([]Cycle, error)
	Close() error
}

// CycleKind tells which coefficient a learning cycle produced.
type CycleKind string

const (
	CycleRCth CycleKind = "rcth"
	CycleRPth CycleKind = "rpth"
)

// Cycle is one learning step.
type Cycle struct {
	ID         string    `json:"id" yaml:"id"`
	InstanceID string    `json:"instance_id" yaml:"instance_id"`
	Kind       CycleKind `json:"kind" yaml:"kind"`
	OccurredAt time.Time `json:"occurred_at" yaml:"occurred_at"`
	Calculated float64   `json:"calculated" yaml:"calculated"`
	Error      float64   `json:"error" yaml:"error"`
	WindKmh    float64   `json:"wind_kmh" yaml:"wind_kmh"`
	Relaxation float64   `json:"relaxation" yaml:"relaxation"`
	Applied    bool      `json:"applied" yaml:"applied"`
}

// Open returns the backend for driver: "sqlite", "file" or "memory".
func Open(driver, path string) (Backend, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(path)
	case "file":
		return NewFileBackend(path)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
