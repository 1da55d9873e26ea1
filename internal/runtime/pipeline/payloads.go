package pipeline

import (
	"reflect"
	"sync"
)

// Payloads is a typed bag of capabilities attached to a pipeline context. A
// derived set resolves misses through its parent, so a payload added to the
// parent after derivation is still visible to the child.
type Payloads struct {
	mu     sync.RWMutex
	items  map[reflect.Type]any
	parent *Payloads
}

// NewPayloads returns an empty root payload set.
func NewPayloads() *Payloads {
	return &Payloads{items: make(map[reflect.Type]any)}
}

// Derive returns a child set. Writes to the child never reach the parent.
func (p *Payloads) Derive() *Payloads {
	child := NewPayloads()
	child.parent = p
	return child
}

func (p *Payloads) lookup(key reflect.Type) (any, bool) {
	for current := p; current != nil; current = current.parent {
		current.mu.RLock()
		v, ok := current.items[key]
		current.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

func (p *Payloads) store(key reflect.Type, v any) {
	p.mu.Lock()
	p.items[key] = v
	p.mu.Unlock()
}

// AddPayload registers value under its static type P, replacing any value of
// the same type on this set. Parents are untouched.
func AddPayload[P any](p *Payloads, value P) {
	p.store(reflect.TypeFor[P](), value)
}

// GetPayload returns the payload registered under P on p or one of its parents.
// A miss returns the zero value and false.
func GetPayload[P any](p *Payloads) (P, bool) {
	var zero P
	if p == nil {
		return zero, false
	}
	v, ok := p.lookup(reflect.TypeFor[P]())
	if !ok {
		return zero, false
	}
	typed, ok := v.(P)
	if !ok {
		return zero, false
	}
	return typed, true
}

// HasPayload reports whether a payload of type P is visible from p.
func HasPayload[P any](p *Payloads) bool {
	_, ok := GetPayload[P](p)
	return ok
}

// GetOrAddPayload returns the payload of type P, creating it with factory and
// storing it on p when absent.
func GetOrAddPayload[P any](p *Payloads, factory func() P) P {
	if existing, ok := GetPayload[P](p); ok {
		return existing
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := reflect.TypeFor[P]()
	if v, ok := p.items[key]; ok {
		return v.(P)
	}
	created := factory()
	p.items[key] = created
	return created
}
