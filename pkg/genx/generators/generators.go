// Package generators routes genx.Generator calls by model name.
package generators

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/paprika-agent/paprika/pkg/genx"
)

var _ genx.Generator = (*Mux)(nil)

// Mux is a genx.Generator that dispatches to the generator registered
// under the requested model name. There is no package-level default; the
// caller owns the Mux and passes it where it is needed.
type Mux struct {
	mu   sync.RWMutex
	gens map[string]genx.Generator
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{gens: make(map[string]genx.Generator)}
}

// Handle registers gen under name. Registering a name twice is an error.
func (m *Mux) Handle(name string, gen genx.Generator) error {
	if name == "" || gen == nil {
		return fmt.Errorf("generators: invalid registration %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[name]; ok {
		return fmt.Errorf("generators: %s already registered", name)
	}
	m.gens[name] = gen
	return nil
}

// Names lists the registered model names in sorted order.
func (m *Mux) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.gens))
}

// Has reports whether name is registered.
func (m *Mux) Has(name string) bool {
	_, err := m.get(name)
	return err == nil
}

func (m *Mux) Generate(ctx context.Context, name string, mctx genx.ModelContext) (string, genx.Usage, error) {
	gen, err := m.get(name)
	if err != nil {
		return "", genx.Usage{}, err
	}
	return gen.Generate(ctx, name, mctx)
}

func (m *Mux) Invoke(ctx context.Context, name string, mctx genx.ModelContext, fn *genx.FuncTool) (genx.Usage, *genx.FuncCall, error) {
	gen, err := m.get(name)
	if err != nil {
		return genx.Usage{}, nil, err
	}
	return gen.Invoke(ctx, name, mctx, fn)
}

func (m *Mux) get(name string) (genx.Generator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gen, ok := m.gens[name]
	if !ok {
		return nil, fmt.Errorf("generators: no generator for %s", name)
	}
	return gen, nil
}
