// Package memstore is a minimal, in-process implementation of
// ports.StoreFactory. The reactive store primitive itself is out of scope
//; this package exists only so the inspector runtime is runnable
// and testable end-to-end without an external application attached.
package memstore

import (
	"sync"

	"github.com/fortistate/inspector/internal/core/ports"
)

// Factory is a process-local StoreFactory: map edits happen under one
// mutex, subscriber callbacks are invoked outside it.
type Factory struct {
	mu         sync.RWMutex
	stores     map[string]*cell
	createSubs map[int]func(string, ports.Value)
	changeSubs map[int]func(string, ports.Value)
	nextSubID  int
}

// New creates an empty store factory.
func New() *Factory {
	return &Factory{
		stores:     make(map[string]*cell),
		createSubs: make(map[int]func(string, ports.Value)),
		changeSubs: make(map[int]func(string, ports.Value)),
	}
}

type cell struct {
	mu    sync.RWMutex
	value ports.Value
	subs  map[int]func(ports.Value)
	next  int
}

func (c *cell) Get() ports.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func (c *cell) Set(v ports.Value) {
	c.mu.Lock()
	c.value = v
	subs := make([]func(ports.Value), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

func (c *cell) Subscribe(fn func(ports.Value)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *cell) Reset() {
	c.Set(nil)
}

// Get returns the named store and whether it exists.
func (f *Factory) Get(key string) (ports.Store, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.stores[key]
	if !ok {
		return nil, false
	}
	return c, true
}

// Has reports whether key is a registered store.
func (f *Factory) Has(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.stores[key]
	return ok
}

// Keys returns every registered store key.
func (f *Factory) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.stores))
	for k := range f.stores {
		keys = append(keys, k)
	}
	return keys
}

// Create registers key with an initial value (or returns the existing store
// unchanged if key is already present) and notifies create subscribers.
func (f *Factory) Create(key string, initial ports.Value) ports.Store {
	f.mu.Lock()
	if existing, ok := f.stores[key]; ok {
		f.mu.Unlock()
		return existing
	}

	c := &cell{value: initial, subs: make(map[int]func(ports.Value))}
	f.stores[key] = c

	changeFn := func(v ports.Value) { f.notifyChange(key, v) }
	c.Subscribe(changeFn)

	subs := make([]func(string, ports.Value), 0, len(f.createSubs))
	for _, fn := range f.createSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(key, initial)
	}
	return c
}

// Delete removes key, reporting whether it existed. Change subscribers see
// the removal as a final nil value for the key.
func (f *Factory) Delete(key string) bool {
	f.mu.Lock()
	_, ok := f.stores[key]
	if !ok {
		f.mu.Unlock()
		return false
	}
	delete(f.stores, key)
	subs := make([]func(string, ports.Value), 0, len(f.changeSubs))
	for _, fn := range f.changeSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(key, nil)
	}
	return true
}

func (f *Factory) notifyChange(key string, v ports.Value) {
	f.mu.RLock()
	subs := make([]func(string, ports.Value), 0, len(f.changeSubs))
	for _, fn := range f.changeSubs {
		subs = append(subs, fn)
	}
	f.mu.RUnlock()

	for _, fn := range subs {
		fn(key, v)
	}
}

// SubscribeCreate registers fn to be called whenever a new store is created.
func (f *Factory) SubscribeCreate(fn func(key string, initial ports.Value)) func() {
	f.mu.Lock()
	id := f.nextSubID
	f.nextSubID++
	f.createSubs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.createSubs, id)
		f.mu.Unlock()
	}
}

// SubscribeChange registers fn to be called whenever any store's value changes.
func (f *Factory) SubscribeChange(fn func(key string, value ports.Value)) func() {
	f.mu.Lock()
	id := f.nextSubID
	f.nextSubID++
	f.changeSubs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.changeSubs, id)
		f.mu.Unlock()
	}
}
