// Package cache implements the bounded in-memory state cache. One Domain per
// record kind (sessions, pursuits), each with its own mutex so churn in one
// domain never blocks reads in the other. Domains perform no I/O.
package cache

import (
	"sort"
	"sync"
	"time"
)

type entry[T any] struct {
	value   T
	touched time.Time
}

// Domain is a mutex-guarded map of id to record with last-touch bookkeeping.
// Eviction is TTL-first, then oldest-touched down to the entry cap.
type Domain[T any] struct {
	mu         sync.Mutex
	name       string
	entries    map[string]*entry[T]
	ttl        time.Duration
	maxEntries int
}

// NewDomain creates a cache domain. ttl and maxEntries bound residency; both
// are enforced by Sweep, not by Put.
func NewDomain[T any](name string, ttl time.Duration, maxEntries int) *Domain[T] {
	return &Domain[T]{
		name:       name,
		entries:    make(map[string]*entry[T]),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Name returns the domain name used in logs and metrics.
func (d *Domain[T]) Name() string { return d.name }

// Get returns the cached value and its age as of now, touching the entry.
func (d *Domain[T]) Get(id string, now time.Time) (val T, age time.Duration, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, found := d.entries[id]
	if !found {
		return val, 0, false
	}
	age = now.Sub(e.touched)
	e.touched = now
	return e.value, age, true
}

// Put stores a value, stamping it as touched now.
func (d *Domain[T]) Put(id string, v T, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id] = &entry[T]{value: v, touched: now}
}

// Delete removes an entry if present.
func (d *Domain[T]) Delete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

// Len returns the current entry count.
func (d *Domain[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// LastTouched returns when the entry was last touched, without touching it.
func (d *Domain[T]) LastTouched(id string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.touched, true
}

// Snapshot returns a copy of the id->value map. Values are shared, so callers
// holding mutable records must clone before mutating.
func (d *Domain[T]) Snapshot() map[string]T {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]T, len(d.entries))
	for id, e := range d.entries {
		out[id] = e.value
	}
	return out
}

// SetLimits replaces the TTL and entry cap, taking effect at the next Sweep.
func (d *Domain[T]) SetLimits(ttl time.Duration, maxEntries int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ttl = ttl
	d.maxEntries = maxEntries
}

// Sweep evicts entries idle longer than the TTL, then the oldest-touched
// entries until the count is back under the cap. Returns how many were
// evicted. Eviction is cache-only; durable state is untouched.
func (d *Domain[T]) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for id, e := range d.entries {
		if now.Sub(e.touched) > d.ttl {
			delete(d.entries, id)
			evicted++
		}
	}

	if d.maxEntries > 0 && len(d.entries) > d.maxEntries {
		type aged struct {
			id      string
			touched time.Time
		}
		all := make([]aged, 0, len(d.entries))
		for id, e := range d.entries {
			all = append(all, aged{id, e.touched})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].touched.Before(all[j].touched) })
		excess := len(d.entries) - d.maxEntries
		for _, a := range all[:excess] {
			delete(d.entries, a.id)
			evicted++
		}
	}

	return evicted
}
