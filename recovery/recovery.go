// Package recovery decides what happens when part of a document cannot be
// read.
package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/wudi/splitpdf/ir/raw"
)

type Strategy interface {
	OnError(ctx context.Context, err error, loc Location) Action
}

// Location names the damaged part of the document.
type Location struct {
	Ref       raw.ObjectRef
	Component string
}

func (l Location) String() string {
	if l.Ref.Num == 0 {
		return l.Component
	}
	return fmt.Sprintf("%s %s", l.Component, l.Ref)
}

type Action int

const (
	// ActionFail aborts opening the document.
	ActionFail Action = iota
	// ActionSkip drops the damaged part and carries on.
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// StrictStrategy fails on the first error.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy { return &StrictStrategy{} }

func (*StrictStrategy) OnError(context.Context, error, Location) Action { return ActionFail }

// LenientStrategy skips damaged parts and remembers what it skipped.
type LenientStrategy struct {
	mu     sync.Mutex
	errors []error
}

func NewLenientStrategy() *LenientStrategy { return &LenientStrategy{} }

func (s *LenientStrategy) OnError(_ context.Context, err error, loc Location) Action {
	s.mu.Lock()
	s.errors = append(s.errors, fmt.Errorf("%s: %w", loc, err))
	s.mu.Unlock()
	return ActionSkip
}

func (s *LenientStrategy) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}

// New returns a StrictStrategy when strict is set, otherwise a fresh
// LenientStrategy.
func New(strict bool) Strategy {
	if strict {
		return NewStrictStrategy()
	}
	return NewLenientStrategy()
}
