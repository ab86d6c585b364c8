// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package series

import "time"

// Clock is injected into every Series instead of each one reaching for the
// wall clock directly, so freshness-gate and summary-rollover behavior can
// be driven deterministically from tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a test Clock that always returns the same instant.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }
