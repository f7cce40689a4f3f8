package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"signalflow/models"
)

// Order is the resolved request handed to an executor back-end.
type Order struct {
	Mint    string
	Side    string
	Mode    string
	Context *models.IntentContext
}

// Executor is one execution back-end. Implementations are registered
// explicitly per intent kind; the consumer dispatches to the first
// registered candidate for a kind.
type Executor interface {
	Name() string
	Execute(ctx context.Context, order Order) (interface{}, error)
}

// Registry holds the ordered executor candidate lists per intent
// kind. Registration happens at startup; Resolve returns the first
// candidate for a kind and an error when none is registered.
type Registry struct {
	mu         sync.RWMutex
	candidates map[string][]Executor
}

func NewRegistry() *Registry {
	return &Registry{candidates: make(map[string][]Executor)}
}

// Register appends an executor to the candidate list for kind.
// Earlier registrations win at dispatch time.
func (r *Registry) Register(kind string, ex Executor) {
	key := strings.ToUpper(strings.TrimSpace(kind))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[key] = append(r.candidates[key], ex)
}

// Resolve returns the first registered executor for kind.
func (r *Registry) Resolve(kind string) (Executor, error) {
	key := strings.ToUpper(strings.TrimSpace(kind))
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.candidates[key]
	if len(list) == 0 {
		return nil, fmt.Errorf("no executor registered for intent kind %q", kind)
	}
	return list[0], nil
}

// Validate checks at startup that every expected intent kind has at
// least one registered back-end.
func (r *Registry) Validate(kinds ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, kind := range kinds {
		key := strings.ToUpper(strings.TrimSpace(kind))
		if len(r.candidates[key]) == 0 {
			return fmt.Errorf("no executor registered for intent kind %q", kind)
		}
	}
	return nil
}

// Kinds lists the kinds with at least one registered executor.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.candidates))
	for k := range r.candidates {
		kinds = append(kinds, k)
	}
	return kinds
}
