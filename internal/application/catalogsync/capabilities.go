package catalogsync

import (
	"fmt"

	"github.com/erp/catalogsync/internal/domain/projection"
)

// Capabilities resolves the projection store capabilities of each type
type Capabilities interface {
	Writer(t projection.Type) (projection.Writer, bool)
	Reader(t projection.Type) (projection.Reader, bool)
}

// CapabilityRegistry is a Capabilities filled at wiring time
type CapabilityRegistry struct {
	writers map[projection.Type]projection.Writer
	readers map[projection.Type]projection.Reader
}

// NewCapabilityRegistry creates an empty registry
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		writers: make(map[projection.Type]projection.Writer),
		readers: make(map[projection.Type]projection.Reader),
	}
}

// RegistryFor registers store as writer and reader of types, or of every
// type when none is given
func RegistryFor(store interface {
	projection.Writer
	projection.Reader
}, types ...projection.Type) *CapabilityRegistry {
	if len(types) == 0 {
		types = projection.AllTypes()
	}
	r := NewCapabilityRegistry()
	for _, t := range types {
		r.Register(t, store, store)
	}
	return r
}

// Register sets the writer and reader of t; nil leaves that side unset
func (r *CapabilityRegistry) Register(t projection.Type, w projection.Writer, rd projection.Reader) *CapabilityRegistry {
	if w != nil {
		r.writers[t] = w
	}
	if rd != nil {
		r.readers[t] = rd
	}
	return r
}

func (r *CapabilityRegistry) Writer(t projection.Type) (projection.Writer, bool) {
	w, ok := r.writers[t]
	return w, ok
}

func (r *CapabilityRegistry) Reader(t projection.Type) (projection.Reader, bool) {
	rd, ok := r.readers[t]
	return rd, ok
}

var _ Capabilities = (*CapabilityRegistry)(nil)

// ConfigError reports wiring that cannot work. It is returned by
// constructors and is never retried.
type ConfigError struct {
	Component string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Component, e.Reason)
}

func requireWriter(caps Capabilities, component string, t projection.Type) (projection.Writer, error) {
	if caps == nil {
		return nil, &ConfigError{Component: component, Reason: "no capability provider"}
	}
	w, ok := caps.Writer(t)
	if !ok || w == nil {
		return nil, &ConfigError{Component: component, Reason: fmt.Sprintf("no writer for %s projections", t)}
	}
	return w, nil
}

func requireReader(caps Capabilities, component string, t projection.Type) (projection.Reader, error) {
	if caps == nil {
		return nil, &ConfigError{Component: component, Reason: "no capability provider"}
	}
	rd, ok := caps.Reader(t)
	if !ok || rd == nil {
		return nil, &ConfigError{Component: component, Reason: fmt.Sprintf("no reader for %s projections", t)}
	}
	return rd, nil
}
