// Package hooks implements named lifecycle extension points.
//
// A hook holds an ordered list of taps. Calling the hook runs the taps
// sequentially in registration order. Series hooks observe a payload;
// Waterfall hooks let every tap return a transformed payload that is
// handed to the next tap. The first tap error stops the call.
package hooks

import (
	"context"
	"fmt"
	"sync"
)

type tap[F any] struct {
	name string
	fn   F
}

type taps[F any] struct {
	mu   sync.RWMutex
	list []tap[F]
}

func (t *taps[F]) add(name string, fn F) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = append(t.list, tap[F]{name: name, fn: fn})
}

func (t *taps[F]) snapshot() []tap[F] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]tap[F], len(t.list))
	copy(out, t.list)
	return out
}

func (t *taps[F]) names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.list))
	for i, tp := range t.list {
		out[i] = tp.name
	}
	return out
}

// Series is a hook whose taps observe a payload in order.
type Series[T any] struct {
	name string
	taps taps[func(context.Context, T) error]
}

// NewSeries creates a series hook.
func NewSeries[T any](name string) *Series[T] {
	return &Series[T]{name: name}
}

// Tap registers fn under the given plugin name.
func (h *Series[T]) Tap(name string, fn func(context.Context, T) error) {
	h.taps.add(name, fn)
}

// Taps returns the registered tap names in call order.
func (h *Series[T]) Taps() []string {
	return h.taps.names()
}

// Call runs every tap in order and stops at the first error.
func (h *Series[T]) Call(ctx context.Context, payload T) error {
	for _, tp := range h.taps.snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tp.fn(ctx, payload); err != nil {
			return fmt.Errorf("hook %s: %s: %w", h.name, tp.name, err)
		}
	}
	return nil
}

// Waterfall is a hook whose taps transform a shared payload.
type Waterfall[T any] struct {
	name string
	taps taps[func(context.Context, T) (T, error)]
}

// NewWaterfall creates a waterfall hook.
func NewWaterfall[T any](name string) *Waterfall[T] {
	return &Waterfall[T]{name: name}
}

// Tap registers fn under the given plugin name.
func (h *Waterfall[T]) Tap(name string, fn func(context.Context, T) (T, error)) {
	h.taps.add(name, fn)
}

// Taps returns the registered tap names in call order.
func (h *Waterfall[T]) Taps() []string {
	return h.taps.names()
}

// Call threads payload through every tap and returns the final value.
// On error the payload returned is the last successfully produced one.
func (h *Waterfall[T]) Call(ctx context.Context, payload T) (T, error) {
	current := payload
	for _, tp := range h.taps.snapshot() {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		next, err := tp.fn(ctx, current)
		if err != nil {
			return current, fmt.Errorf("hook %s: %s: %w", h.name, tp.name, err)
		}
		current = next
	}
	return current, nil
}
