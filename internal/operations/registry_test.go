package operations

import (
	"cohortq/internal/federation"
	"testing"
)

type dummyOperation struct {
	id string
}

func (o dummyOperation) ID() string            { return o.id }
func (dummyOperation) Title() string           { return "Dummy" }
func (dummyOperation) Description() string     { return "Does nothing" }
func (dummyOperation) Options() []Option       { return nil }
func (dummyOperation) DefaultStrategy() string { return "sequential" }
func (dummyOperation) Build(map[string]string, Settings) (federation.Request, federation.Executor, error) {
	return nil, nil, nil
}

func registerTemporary(t *testing.T, op Operation) {
	t.Helper()
	Register(op)
	t.Cleanup(func() {
		mu.Lock()
		delete(registry, op.ID())
		mu.Unlock()
	})
}

func TestRegistry(t *testing.T) {
	registerTemporary(t, dummyOperation{id: "zz-dummy"})

	all := List()
	if len(all) != 4 {
		t.Fatalf("Expected 4 operations, got %d", len(all))
	}
	want := []string{"find-entities", "get-entity", "get-relationships", "zz-dummy"}
	for i, op := range all {
		if op.ID() != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, op.ID(), want[i])
		}
	}

	op, err := Resolve(" get-entity ")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if op.ID() != "get-entity" {
		t.Errorf("Expected get-entity, got %s", op.ID())
	}

	if _, err := Resolve("unknown"); err == nil {
		t.Error("Expected error for unknown operation")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(dummyOperation{id: "get-entity"})
}
