// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package series

import (
	"time"

	"github.com/kaloix/home-sensor/pkg/record"
)

// Segment is one contiguous interval during which a Switch series was in
// the "on" (true) state.
type Segment struct {
	Start time.Time
	End   time.Time
}

func (s Segment) Duration() time.Duration { return s.End.Sub(s.Start) }

// computeSegments derives the on-intervals from a chronologically ordered
// slice of Switch records. If more than allowedDowntime elapses between two
// confirmations of the "on" state, the default (assumeLastDuringDowntime
// false) closes the segment at the last confirmed-true timestamp rather
// than extending it to the gap's far edge -- we assume "false during
// downtime" rather than overreport uptime across a data loss window.
// Setting assumeLastDuringDowntime lets an operator opt into the opposite
// policy for switches where holding the last known state is the safer
// assumption. A segment still open at the end of recs is closed at the
// last record's timestamp; callers who need an open segment extended to
// "now" should append a synthetic current record first.
func computeSegments(recs []record.Record, allowedDowntime time.Duration, assumeLastDuringDowntime bool) []Segment {
	var segs []Segment
	var openStart time.Time
	var open bool

	for i, r := range recs {
		if i > 0 && open && !assumeLastDuringDowntime {
			gap := r.Timestamp.Sub(recs[i-1].Timestamp)
			if gap > allowedDowntime {
				segs = append(segs, Segment{Start: openStart, End: recs[i-1].Timestamp})
				open = false
			}
		}

		if r.Value.Bool {
			if !open {
				openStart = r.Timestamp
				open = true
			}
		} else if open {
			segs = append(segs, Segment{Start: openStart, End: r.Timestamp})
			open = false
		}
	}

	if open {
		segs = append(segs, Segment{Start: openStart, End: recs[len(recs)-1].Timestamp})
	}
	return segs
}

// Uptime sums the duration of every segment.
func Uptime(segs []Segment) time.Duration {
	var total time.Duration
	for _, s := range segs {
		total += s.Duration()
	}
	return total
}

// intersectUptime sums the portion of each segment that falls within
// [from, to).
func intersectUptime(segs []Segment, from, to time.Time) time.Duration {
	var total time.Duration
	for _, s := range segs {
		start := s.Start
		if start.Before(from) {
			start = from
		}
		end := s.End
		if end.After(to) {
			end = to
		}
		if end.After(start) {
			total += end.Sub(start)
		}
	}
	return total
}
