package operations

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registry = make(map[string]Operation)
	mu       sync.RWMutex
)

func Register(op Operation) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[op.ID()]; exists {
		panic(fmt.Sprintf("operation %s already registered", op.ID()))
	}
	registry[op.ID()] = op
}

func List() []Operation {
	mu.RLock()
	defer mu.RUnlock()
	ops := make([]Operation, 0, len(registry))
	for _, op := range registry {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].ID() < ops[j].ID()
	})
	return ops
}

// Resolve looks an operation up by id.
func Resolve(id string) (Operation, error) {
	mu.RLock()
	defer mu.RUnlock()
	id = strings.TrimSpace(id)
	op, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("operation not found: %s", id)
	}
	return op, nil
}
