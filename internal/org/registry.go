// Package org resolves organization names to their persistence handles. The
// rest of the system never touches a global connection: the handle is an
// explicit context object threaded through calls.
package org

import (
	"fmt"
	"sync"

	"haven/internal/alias"
	"haven/internal/funnel"
	"haven/internal/report"
	"haven/pkg/platform/sentinel"
)

// Handle bundles the per-organization persistence collaborators and the
// services built on them.
type Handle struct {
	Name    string
	Reports report.Store
	Funnel  *funnel.Recorder
	Alias   *alias.Service
}

// NewHandle wires a handle's services from its stores. events may be nil.
func NewHandle(name string, reports report.Store, funnelStore funnel.Store, events chan<- funnel.Event) (*Handle, error) {
	recorder, err := funnel.NewRecorder(funnelStore, events)
	if err != nil {
		return nil, fmt.Errorf("org %s: %w", name, err)
	}
	aliasSvc, err := alias.NewService(reports)
	if err != nil {
		return nil, fmt.Errorf("org %s: %w", name, err)
	}
	return &Handle{Name: name, Reports: reports, Funnel: recorder, Alias: aliasSvc}, nil
}

// Registry maps org names to handles. Registration happens once at startup;
// lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.Name] = h
}

// Resolve returns the handle for an org name. Unknown names surface as
// not-found, never as a generic failure, so adapters can answer 404.
func (r *Registry) Resolve(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("org %q: %w", name, sentinel.ErrNotFound)
	}
	return h, nil
}
