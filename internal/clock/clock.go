// Package clock provides the time source seen by seeding code, which can be
// frozen to a fixed instant for the duration of a scope.
package clock

import (
	"context"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

type Clock = bclock.Clock

type ctxKey struct{}

// Scope holds the current clock of one hook. Freeze swaps in a frozen clock
// until the returned release func is called.
type Scope struct {
	mu      sync.RWMutex
	base    Clock
	current Clock
	depth   int
}

func NewScope(base Clock) *Scope {
	if base == nil {
		base = bclock.New()
	}
	return &Scope{base: base, current: base}
}

func (s *Scope) Clock() Clock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Scope) Now() time.Time {
	return s.Clock().Now()
}

func (s *Scope) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depth > 0
}

// Freeze installs a clock stopped at t. Release is idempotent and restores the
// clock that was current before this call.
func (s *Scope) Freeze(t time.Time) (Clock, func()) {
	frozen := bclock.NewMock()
	frozen.Set(t)

	s.mu.Lock()
	prev := s.current
	s.current = frozen
	s.depth++
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			s.current = prev
			s.depth--
			s.mu.Unlock()
		})
	}
	return frozen, release
}

func NewContext(ctx context.Context, c Clock) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the clock carried by ctx, or the wall clock.
func FromContext(ctx context.Context) Clock {
	if c, ok := ctx.Value(ctxKey{}).(Clock); ok && c != nil {
		return c
	}
	return bclock.New()
}

func Now(ctx context.Context) time.Time {
	return FromContext(ctx).Now()
}
