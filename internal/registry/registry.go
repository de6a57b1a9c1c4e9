// Package registry keeps the heating instances running in the process and
// resolves command targets.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Agrid-Dev/smarthrt/internal/logger"
	"github.com/Agrid-Dev/smarthrt/internal/ports"
)

var (
	ErrNoInstances      = errors.New("no smarthrt instance registered")
	ErrInstanceNotFound = errors.New("smarthrt instance not found")
	ErrDuplicateID      = errors.New("smarthrt instance already registered")
)

type Registry struct {
	log *logger.Logger

	mu    sync.RWMutex
	order []string
	byID  map[string]ports.HeatingService
}

func New(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{log: log, byID: map[string]ports.HeatingService{}}
}

func (r *Registry) Register(svc ports.HeatingService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := svc.ID()
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.byID[id] = svc
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Resolve returns the instance registered under id. With an empty id it falls
// back to the sole instance, or to the first registered one with a warning.
// An unknown id is an error: commands are never redirected to another instance.
func (r *Registry) Resolve(id string) (ports.HeatingService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, ErrNoInstances
	}
	if id != "" {
		svc, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return svc, nil
	}
	first := r.order[0]
	if len(r.order) > 1 {
		r.log.Warnw("no instance id given, using the first registered", "instance", first, "count", len(r.order))
	}
	return r.byID[first], nil
}

// List returns the instances in registration order.
func (r *Registry) List() []ports.HeatingService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.HeatingService, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

var _ ports.Directory = (*Registry)(nil)
