package eyes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/provider"
)

const (
	// DefaultInvokeTimeout bounds a single eye invocation.
	DefaultInvokeTimeout = 30 * time.Second
	// healthCacheTTL bounds how often an eye's health is re-probed.
	healthCacheTTL = 30 * time.Second
)

// ErrUnknownEye is returned when a name has no registered implementation.
var ErrUnknownEye = errors.New("unknown eye")

type healthEntry struct {
	checked time.Time
	err     error
}

// Registry maps eye names to implementations and wraps every invocation
// with a timeout, cancellation propagation, and error classification.
type Registry struct {
	mu     sync.RWMutex
	eyes   map[string]Eye
	health map[string]healthEntry

	invokeTimeout time.Duration
	now           func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithInvokeTimeout overrides the per-eye invocation timeout.
func WithInvokeTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.invokeTimeout = d }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		eyes:          make(map[string]Eye),
		health:        make(map[string]healthEntry),
		invokeTimeout: DefaultInvokeTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an eye under its described name.
func (r *Registry) Register(eye Eye) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eyes[eye.Describe().Name] = eye
}

// Get returns the eye registered under name.
func (r *Registry) Get(name string) (Eye, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eye, ok := r.eyes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEye, name)
	}
	return eye, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.eyes[name]
	return ok
}

// Names returns the registered eye names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.eyes))
	for name := range r.eyes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns all capability records, sorted by name.
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]Description, 0, len(r.eyes))
	for _, eye := range r.eyes {
		descs = append(descs, eye.Describe())
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Invoke dispatches an eye by name under the registry's timeout. Errors
// out of the eye are always classified.
func (r *Registry) Invoke(ctx context.Context, name string, env models.Envelope) (models.EyeResult, error) {
	eye, err := r.Get(name)
	if err != nil {
		return models.EyeResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.invokeTimeout)
	defer cancel()

	result, err := eye.Invoke(ctx, env)
	if err != nil {
		return models.EyeResult{}, provider.Classify(err)
	}
	result.Eye = name
	return result, nil
}

// Health probes an eye, caching the verdict for 30 seconds per eye.
func (r *Registry) Health(ctx context.Context, name string) error {
	eye, err := r.Get(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	entry, ok := r.health[name]
	if ok && r.now().Sub(entry.checked) < healthCacheTTL {
		r.mu.Unlock()
		return entry.err
	}
	r.mu.Unlock()

	probeErr := eye.Health(ctx)

	r.mu.Lock()
	r.health[name] = healthEntry{checked: r.now(), err: probeErr}
	r.mu.Unlock()
	return probeErr
}
