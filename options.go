package dumphook

import (
	"fmt"
	"time"
)

type runOptions struct {
	createdOn time.Time
	actual    string
	hasActual bool
}

// RunOption selects the invalidation key of one call.
type RunOption func(*runOptions)

// CreatedOn keys the snapshot by an explicit creation time. The seeding block
// sees the hook clock frozen at t. It takes precedence over Actual.
func CreatedOn(t time.Time) RunOption {
	return func(o *runOptions) { o.createdOn = t }
}

// Actual keys the snapshot by a rolling tag. Any value is accepted and
// formatted with fmt.Sprint; nil or an empty string leaves the tag unset and
// the configured one applies.
func Actual(v any) RunOption {
	return func(o *runOptions) {
		if v == nil {
			return
		}
		s := fmt.Sprint(v)
		if s == "" {
			return
		}
		o.actual = s
		o.hasActual = true
	}
}
