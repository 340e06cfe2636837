package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// HandlerFunc runs one job. It must honour ctx, which carries the job's
// deadline, and tolerate being invoked more than once for the same job.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

var (
	ErrUnknownHandler = errors.New("no handler registered")
	ErrRegistrySealed = errors.New("handler registry is sealed")
)

// Registry maps handler keys to functions. It is filled at process start
// and sealed before the first job runs.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	sealed   bool
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(name string, fn HandlerFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("handler name is required")
	}
	if fn == nil {
		return fmt.Errorf("handler %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registering %q: %w", name, ErrRegistrySealed)
	}
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = fn
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names lists the registered keys in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the handler registered under name with deadline applied to ctx.
func (r *Registry) Invoke(ctx context.Context, name string, payload json.RawMessage, deadline time.Time) (json.RawMessage, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrUnknownHandler, name)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return fn(ctx, payload)
}
