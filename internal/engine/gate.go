package engine

import (
	"context"
	"sync"
)

// SymbolGate serializes read-decide-write sequences per instrument symbol.
// Two signal deliveries for the same symbol arriving close together must not
// race on "read position, classify change, mutate orders/ledger", so the gate
// is held for the entire reconcile-then-act sequence, not just individual
// exchange calls. Different symbols proceed fully in parallel.
//
// The gate is in-process only. A multi-instance deployment would need a lease
// in the shared store instead; see DESIGN.md.
type SymbolGate struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewSymbolGate creates an empty gate.
func NewSymbolGate() *SymbolGate {
	return &SymbolGate{slots: make(map[string]chan struct{})}
}

// Acquire blocks until the gate for symbol is free or ctx is cancelled. On
// success it returns a release function that must be called to let the next
// waiter in; it is safe to call more than once.
func (g *SymbolGate) Acquire(ctx context.Context, symbol string) (func(), error) {
	g.mu.Lock()
	slot, ok := g.slots[symbol]
	if !ok {
		slot = make(chan struct{}, 1)
		g.slots[symbol] = slot
	}
	g.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-slot })
	}
	return release, nil
}
