package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/xraph/coffer/entitlement"
)

// StaticDirectory is an in-memory Directory, typically loaded from a YAML
// catalog file.
type StaticDirectory struct {
	mu    sync.RWMutex
	units map[entitlement.Catalog]map[string]Unit
}

// NewStaticDirectory returns a directory holding units.
func NewStaticDirectory(units ...Unit) (*StaticDirectory, error) {
	d := &StaticDirectory{units: make(map[entitlement.Catalog]map[string]Unit)}
	for _, u := range units {
		if err := d.Put(u); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Put adds or replaces a unit.
func (d *StaticDirectory) Put(u Unit) error {
	if u.ID == "" {
		return errors.New("content: unit without id")
	}
	if !u.Catalog.IsValid() {
		return fmt.Errorf("content: unit %q: unknown catalog %q", u.ID, u.Catalog)
	}
	if u.Price < 0 {
		return fmt.Errorf("content: unit %q: negative price %d", u.ID, u.Price)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	byID, ok := d.units[u.Catalog]
	if !ok {
		byID = make(map[string]Unit)
		d.units[u.Catalog] = byID
	}
	byID[u.ID] = u
	return nil
}

// Unit implements Directory.
func (d *StaticDirectory) Unit(_ context.Context, catalog entitlement.Catalog, unitID string) (*Unit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.units[catalog][unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnitNotFound, catalog, unitID)
	}
	return &u, nil
}

// Len returns the number of units held.
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, byID := range d.units {
		n += len(byID)
	}
	return n
}

type catalogFile struct {
	Units []Unit `yaml:"units"`
}

// Parse reads a YAML catalog document of the form
//
//	units:
//	  - id: ep-1
//	    catalog: digital
//	    price: 50
//	    locked: true
func Parse(data []byte) (*StaticDirectory, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("content: parse catalog: %w", err)
	}
	return NewStaticDirectory(f.Units...)
}

// LoadFile reads a YAML catalog file.
func LoadFile(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("content: read catalog: %w", err)
	}
	return Parse(data)
}
