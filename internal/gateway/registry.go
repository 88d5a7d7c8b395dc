package gateway

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
)

var ErrOperationAlreadyRegistered = errors.New("[gateway] operation already registered")

// Registry отображение имени операции в определение.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register регистрирует определения. Повторная регистрация имени возвращает ErrOperationAlreadyRegistered,
// при этом ни одно определение из вызова не регистрируется.
func (r *Registry) Register(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if d == nil {
			return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
		}
		_, dupInCall := seen[d.name]
		if _, ok := r.defs[d.name]; ok || dupInCall {
			return fmt.Errorf("%w: %s", ErrOperationAlreadyRegistered, d.name)
		}
		seen[d.name] = struct{}{}
	}
	for _, d := range defs {
		r.defs[d.name] = d
	}
	return nil
}

// Lookup возвращает определение или failed-precondition для незарегистрированного имени.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	d, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, rpcerr.FailedPrecondition(rpcerr.ReasonOperationNotRegistered, "operation not registered")
	}
	return d, nil
}

// Names имена зарегистрированных операций по алфавиту.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
