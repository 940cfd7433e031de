package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFreezeAndRelease(t *testing.T) {
	s := NewScope(nil)
	instant := time.Date(2020, 2, 29, 8, 0, 0, 0, time.UTC)

	frozen, release := s.Freeze(instant)
	assert.True(t, s.Frozen())
	assert.True(t, frozen.Now().Equal(instant))
	assert.True(t, s.Now().Equal(instant))

	time.Sleep(5 * time.Millisecond)
	assert.True(t, s.Now().Equal(instant), "a frozen clock does not advance")

	release()
	assert.False(t, s.Frozen())
	assert.WithinDuration(t, time.Now(), s.Now(), time.Minute)

	release()
	assert.False(t, s.Frozen(), "release is idempotent")
}

func TestReleaseOnPanic(t *testing.T) {
	s := NewScope(nil)

	func() {
		defer func() { _ = recover() }()
		_, release := s.Freeze(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))
		defer release()
		panic("seed blew up")
	}()

	assert.False(t, s.Frozen())
	assert.Greater(t, s.Now().Year(), 2001)
}

func TestNestedFreeze(t *testing.T) {
	s := NewScope(nil)
	outer := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	inner := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	_, releaseOuter := s.Freeze(outer)
	_, releaseInner := s.Freeze(inner)
	assert.True(t, s.Now().Equal(inner))

	releaseInner()
	assert.True(t, s.Now().Equal(outer))

	releaseOuter()
	assert.False(t, s.Frozen())
}

func TestContext(t *testing.T) {
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Minute)

	s := NewScope(nil)
	instant := time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC)
	frozen, release := s.Freeze(instant)
	defer release()

	ctx := NewContext(context.Background(), frozen)
	assert.True(t, Now(ctx).Equal(instant))
}
