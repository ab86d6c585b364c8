// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package series

import (
	"testing"
	"time"

	"github.com/kaloix/home-sensor/pkg/record"
)

func newTestTemperatureSeries(t *testing.T, clock Clock) *Series {
	t.Helper()
	s, err := New(Config{
		Name:            "garden",
		Kind:            record.KindTemperature,
		Low:             -10,
		High:            35,
		AllowedDowntime: 30 * time.Minute,
		DataDir:         t.TempDir(),
		Clock:           clock,
		Location:        time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAppendRejectsNonIncreasingTimestamps(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s := newTestTemperatureSeries(t, FixedClock{At: base})

	if err := s.Append(record.New(base, record.NumberValue(20))); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(record.New(base, record.NumberValue(21))); err != ErrOlderThanPrevious {
		t.Fatalf("expected ErrOlderThanPrevious for equal timestamp, got %v", err)
	}
	if err := s.Append(record.New(base.Add(-time.Minute), record.NumberValue(21))); err != ErrOlderThanPrevious {
		t.Fatalf("expected ErrOlderThanPrevious for earlier timestamp, got %v", err)
	}
}

func TestRunCompressionDropsMiddleOfEqualValueRun(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s := newTestTemperatureSeries(t, FixedClock{At: base})

	times := []time.Time{base, base.Add(5 * time.Minute), base.Add(10 * time.Minute)}
	for _, ts := range times {
		if err := s.Append(record.New(ts, record.NumberValue(20))); err != nil {
			t.Fatal(err)
		}
	}

	got := s.Records()
	if len(got) != 2 {
		t.Fatalf("expected middle record compressed away, got %d records: %+v", len(got), got)
	}
	if !got[0].Timestamp.Equal(times[0]) || !got[1].Timestamp.Equal(times[2]) {
		t.Fatalf("expected first and last of the run to survive, got %+v", got)
	}
}

func TestRunCompressionDoesNotSpanAllowedDowntime(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s := newTestTemperatureSeries(t, FixedClock{At: base})

	times := []time.Time{base, base.Add(20 * time.Minute), base.Add(40 * time.Minute)}
	for _, ts := range times {
		if err := s.Append(record.New(ts, record.NumberValue(20))); err != nil {
			t.Fatal(err)
		}
	}

	got := s.Records()
	if len(got) != 3 {
		t.Fatalf("expected no compression once the run exceeds allowedDowntime, got %d records", len(got))
	}
}

func TestCurrentFreshnessGate(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := &mutableClock{at: base}
	s := newTestTemperatureSeries(t, clock)

	if err := s.Append(record.New(base, record.NumberValue(20))); err != nil {
		t.Fatal(err)
	}

	clock.at = base.Add(10 * time.Minute)
	if _, ok := s.Current(); !ok {
		t.Fatal("expected current value to still be fresh")
	}

	clock.at = base.Add(45 * time.Minute)
	if _, ok := s.Current(); ok {
		t.Fatal("expected current value to be stale past allowedDowntime")
	}
}

func TestMinMaxTieBreak(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	recs := []record.Record{
		record.New(base, record.NumberValue(10)),
		record.New(base.Add(time.Minute), record.NumberValue(10)),
		record.New(base.Add(2*time.Minute), record.NumberValue(25)),
		record.New(base.Add(3*time.Minute), record.NumberValue(25)),
	}

	min, max, ok := MinMax(recs)
	if !ok {
		t.Fatal("expected a result")
	}
	if !min.Timestamp.Equal(recs[1].Timestamp) {
		t.Fatalf("expected later duplicate to win the minimum, got %+v", min)
	}
	if !max.Timestamp.Equal(recs[2].Timestamp) {
		t.Fatalf("expected earlier duplicate to win the maximum, got %+v", max)
	}
}

func TestSummaryCrossDayRollover(t *testing.T) {
	day1 := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)
	s := newTestTemperatureSeries(t, FixedClock{At: day2})

	if err := s.Append(record.New(day1, record.NumberValue(5))); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(record.New(day1.Add(30*time.Minute), record.NumberValue(9))); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(record.New(day2, record.NumberValue(3))); err != nil {
		t.Fatal(err)
	}

	sums := s.Summaries()
	if len(sums) != 1 {
		t.Fatalf("expected exactly one emitted summary for the completed day, got %d", len(sums))
	}
	if sums[0].Min != 5 || sums[0].Max != 9 {
		t.Fatalf("unexpected rollover summary: %+v", sums[0])
	}
}

func TestSwitchUptimeSummary(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	next := day.Add(24 * time.Hour)
	s, err := New(Config{
		Name:            "pump",
		Kind:            record.KindSwitch,
		AllowedDowntime: 3 * time.Hour,
		DataDir:         t.TempDir(),
		Clock:           FixedClock{At: next.Add(time.Hour)},
		Location:        time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}

	must := func(r record.Record) {
		t.Helper()
		if err := s.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	// The 2-hour gap between the "on" and "off" readings must stay within
	// AllowedDowntime, or computeSegments treats it as an unconfirmed
	// downtime window and closes the segment early at the last "on" reading.
	must(record.New(day.Add(1*time.Hour), record.BoolValue(true)))
	must(record.New(day.Add(3*time.Hour), record.BoolValue(false)))
	must(record.New(next, record.BoolValue(false)))

	sums := s.Summaries()
	if len(sums) != 1 {
		t.Fatalf("expected one emitted summary, got %d", len(sums))
	}
	if sums[0].UptimeHours != 2 {
		t.Fatalf("expected 2 hours of uptime, got %v", sums[0].UptimeHours)
	}
}

func TestSwitchUptimeSummarySpansMidnight(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	next := day.Add(24 * time.Hour)
	s, err := New(Config{
		Name:            "pump",
		Kind:            record.KindSwitch,
		AllowedDowntime: 2 * time.Hour,
		DataDir:         t.TempDir(),
		Clock:           FixedClock{At: next.Add(2 * time.Hour)},
		Location:        time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}

	must := func(r record.Record) {
		t.Helper()
		if err := s.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	// Switch turns on an hour before midnight and off an hour after --
	// one uptime segment spanning both calendar days. Only one hour of it
	// falls on the day being summarized.
	must(record.New(day.Add(23*time.Hour), record.BoolValue(true)))
	must(record.New(next.Add(1*time.Hour), record.BoolValue(false)))

	sums := s.Summaries()
	if len(sums) != 1 {
		t.Fatalf("expected one emitted summary for the completed day, got %d", len(sums))
	}
	if sums[0].UptimeHours != 1 {
		t.Fatalf("expected 1 hour of uptime before midnight, got %v", sums[0].UptimeHours)
	}
}

func TestWarningPlainBounds(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s := newTestTemperatureSeries(t, FixedClock{At: base})

	if err := s.Append(record.New(base, record.NumberValue(40))); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Warning(); !ok {
		t.Fatal("expected a warning for a value above the configured high bound")
	}
}

func TestWarningThresholdExpr(t *testing.T) {
	base := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC) // 23:00
	s, err := New(Config{
		Name:            "garden",
		Kind:            record.KindTemperature,
		Low:             -10,
		High:            35,
		ThresholdExpr:   "hour >= 22 && value > 18",
		AllowedDowntime: 30 * time.Minute,
		DataDir:         t.TempDir(),
		Clock:           FixedClock{At: base},
		Location:        time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Append(record.New(base, record.NumberValue(20))); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Warning(); !ok {
		t.Fatal("expected threshold_expr to flag a night-time value within the plain bounds")
	}
}

// mutableClock lets a test advance wall-clock time between calls, unlike
// FixedClock which is immutable for the lifetime of a test.
type mutableClock struct{ at time.Time }

func (c *mutableClock) Now() time.Time { return c.at }
