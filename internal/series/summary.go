// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package series

import "time"

// Summary is one daily rollup. Only Min/Max are meaningful for a
// Temperature series and only UptimeHours for a Switch series -- see
// Series.Kind to know which.
type Summary struct {
	Date        time.Time // local midnight of the summarized day
	Min         float64
	Max         float64
	UptimeHours float64
}

// localDate truncates ts to local midnight in loc, the unit daily summaries
// are keyed by. A record landing exactly on local midnight belongs to the
// new day, matching time.Time's own half-open [start, start+24h) semantics
// once truncated this way.
func localDate(ts time.Time, loc *time.Location) time.Time {
	t := ts.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
