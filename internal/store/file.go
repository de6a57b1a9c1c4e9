package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Instances map[string]Record `yaml:"instances"`
	Cycles    []Cycle           `yaml:"cycles,omitempty"`
}

// FileBackend keeps every instance in a single YAML document, rewritten
// atomically on each save.
type FileBackend struct {
	path string

	mu sync.Mutex
}

func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("file storage needs a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &FileBackend{path: path}, nil
}

func (f *FileBackend) read() (fileDocument, error) {
	doc := fileDocument{Instances: map[string]Record{}}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", f.path, err)
	}
	if doc.Instances == nil {
		doc.Instances = map[string]Record{}
	}
	return doc, nil
}

func (f *FileBackend) write(doc fileDocument) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".smarthrt-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileBackend) Load(_ context.Context, instanceID string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	rec, ok := doc.Instances[instanceID]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (f *FileBackend) Save(_ context.Context, instanceID string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	merged := doc.Instances[instanceID]
	if merged == nil {
		merged = make(Record, len(rec))
	}
	maps.Copy(merged, rec)
	doc.Instances[instanceID] = merged
	return f.write(doc)
}

func (f *FileBackend) AppendCycle(_ context.Context, c Cycle) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Cycles = append(doc.Cycles, c)
	return f.write(doc)
}

func (f *FileBackend) Cycles(_ context.Context, instanceID string, limit int) ([]Cycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	var out []Cycle
	for i := len(doc.Cycles) - 1; i >= 0; i-- {
		if doc.Cycles[i].InstanceID != instanceID {
			continue
		}
		out = append(out, doc.Cycles[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *FileBackend) Close() error { return nil }
