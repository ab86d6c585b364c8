// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package series implements the per-sensor record store: a bounded,
// strictly-ordered log of Records backed by an append-only CSV file, plus
// the daily summaries and lazy derived views (current, day, min/max,
// uptime) the alerter and the external presentation layer read from.
package series

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kaloix/home-sensor/pkg/log"
	"github.com/kaloix/home-sensor/pkg/record"
)

// ErrOlderThanPrevious is returned by Append when a record's timestamp does
// not strictly exceed the series' last stored timestamp. Callers log and
// drop; it is never promoted to an alert.
var ErrOlderThanPrevious = errors.New("series: record not newer than previous")

const (
	// DefaultRecordDays is the default retention window for detail records.
	DefaultRecordDays = 7
	// DefaultSummaryDays is the default retention window for daily summaries.
	DefaultSummaryDays = 365
	// DefaultAllowedDowntime is the freshness gate and run-compression span.
	DefaultAllowedDowntime = 30 * time.Minute
)

// Checkpointer is the optional durable side-store a Series reports its
// last-ingested timestamp and running daily accumulator to after every
// successful append. Restore still replays the full CSV history -- daily
// summaries live only in memory and aren't themselves checkpointed, so
// there is no way to skip that replay without losing summary history --
// but it cross-checks the saved checkpoint against what replay actually
// produced and logs if they disagree. It is advisory: a Checkpointer
// failure is logged and otherwise ignored, since the CSV file remains the
// authoritative record.
type Checkpointer interface {
	Checkpoint(seriesName string, lastTimestamp time.Time, accDate time.Time, accMin, accMax float64) error
	// LoadCheckpoint returns the last saved checkpoint for seriesName, or
	// found=false if none exists yet. Plain return values rather than a
	// shared struct keep this package decoupled from internal/store's
	// concrete type, same as Checkpoint above.
	LoadCheckpoint(seriesName string) (lastTimestamp, accDate time.Time, accMin, accMax float64, found bool, err error)
}

// Publisher is the optional event-bus fan-out a Series notifies of every
// accepted record. A nil Publisher (or a Publish error) never blocks or
// fails an Append.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

// Config describes one Series at construction time -- the Go-native
// equivalent of one entry in the static sensor descriptor (see
// internal/config).
type Config struct {
	Name       string
	Kind       record.Kind
	Interval   time.Duration
	FailNotify bool

	// Temperature-only.
	Low, High     float64
	ThresholdExpr string

	RecordDays      int
	SummaryDays     int
	AllowedDowntime time.Duration
	Location        *time.Location

	// AssumeLastDuringDowntime selects how a Switch series' uptime
	// segments treat a gap longer than AllowedDowntime: false (default)
	// closes the segment at the last confirmation, assuming the switch
	// went off during the outage; true extends it through the gap,
	// assuming it held its last known state.
	AssumeLastDuringDowntime bool

	DataDir string
	Clock   Clock

	Store     Checkpointer
	Publisher Publisher
}

// Series is a named, typed, append-only log of Records plus its derived
// daily summaries. It owns its in-memory deques and its CSV files
// exclusively; concurrent writers to the same Series are forbidden by the
// supervisor's single-writer design, but Series itself is also safe for
// concurrent readers via its internal mutex.
type Series struct {
	Name       string
	Kind       record.Kind
	Interval   time.Duration
	FailNotify bool
	Low, High  float64

	recordDays               time.Duration
	summaryDays              time.Duration
	allowedDowntime          time.Duration
	assumeLastDuringDowntime bool
	location                 *time.Location
	clock                    Clock

	csv   *csvStore
	store Checkpointer
	bus   Publisher

	warn *warningEvaluator

	mu        sync.Mutex
	records   *list.List // of record.Record, ascending
	summaries *list.List // of Summary, ascending
	accDate   time.Time
	accMin    float64
	accMax    float64
	accCount  int
}

// New constructs an empty Series. Use Restore to additionally replay its
// CSV history.
func New(cfg Config) (*Series, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("series: name is required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	recordDays := cfg.RecordDays
	if recordDays <= 0 {
		recordDays = DefaultRecordDays
	}
	summaryDays := cfg.SummaryDays
	if summaryDays <= 0 {
		summaryDays = DefaultSummaryDays
	}
	allowedDowntime := cfg.AllowedDowntime
	if allowedDowntime <= 0 {
		allowedDowntime = DefaultAllowedDowntime
	}

	var warn *warningEvaluator
	if cfg.Kind == record.KindTemperature {
		var err error
		warn, err = newWarningEvaluator(cfg.Low, cfg.High, cfg.ThresholdExpr)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", cfg.Name, err)
		}
	}

	return &Series{
		Name:                     cfg.Name,
		Kind:                     cfg.Kind,
		Interval:                 cfg.Interval,
		FailNotify:               cfg.FailNotify,
		Low:                      cfg.Low,
		High:                     cfg.High,
		recordDays:               time.Duration(recordDays) * 24 * time.Hour,
		summaryDays:              time.Duration(summaryDays) * 24 * time.Hour,
		allowedDowntime:          allowedDowntime,
		assumeLastDuringDowntime: cfg.AssumeLastDuringDowntime,
		location:                 loc,
		clock:                    clock,
		csv:                      newCSVStore(cfg.DataDir, cfg.Name),
		store:                    cfg.Store,
		bus:                      cfg.Publisher,
		warn:                     warn,
		records:                  list.New(),
		summaries:                list.New(),
	}, nil
}

// Restore replays this series' CSV partitions for the given years (in
// ascending order, typically now.Year()-1 and now.Year()) to rebuild the
// in-memory deques, reconstructing summaries and eviction state as if every
// record had just been appended.
//
// Daily summaries live only in memory, derived from the CSV on every
// restart, so a checkpoint cannot let Restore skip replay outright without
// losing summary history. What it can do is catch a CSV file that drifted
// out of sync with the checkpoint (truncated, replaced, or rotated under
// the process) -- Restore logs a warning when the two disagree rather than
// silently trusting whichever one happened to load.
func (s *Series) Restore(years []int) error {
	recs, err := replay(s.csv.dataDir, s.Name, s.Kind, years)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := s.appendLocked(r, false); err != nil && !errors.Is(err, ErrOlderThanPrevious) {
			return err
		}
	}

	if s.store != nil {
		lastTS, _, _, _, found, err := s.store.LoadCheckpoint(s.Name)
		if err != nil {
			log.Warnf("series %s: loading checkpoint failed: %v", s.Name, err)
		} else if found {
			if back := s.records.Back(); back != nil {
				last := back.Value.(record.Record)
				if !last.Timestamp.Equal(lastTS) {
					log.Warnf("series %s: checkpoint last-ts %s does not match CSV replay last-ts %s, CSV history may be incomplete", s.Name, lastTS, last.Timestamp)
				}
			} else {
				log.Warnf("series %s: checkpoint exists but CSV replay produced no records", s.Name)
			}
		}
	}
	return nil
}

// Close flushes and releases the series' CSV file handle.
func (s *Series) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csv.close()
}

func (s *Series) now() time.Time { return s.clock.Now() }

// Append inserts r, enforcing the strictly-increasing-timestamp invariant,
// run-compression, CSV persistence, retention eviction, and summary
// rollover. See appendLocked for the persistCSV=true case used by normal
// ingestion; Restore passes false to avoid re-writing replayed lines.
func (s *Series) Append(r record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(r, true)
}

func (s *Series) appendLocked(r record.Record, persistCSV bool) error {
	if back := s.records.Back(); back != nil {
		last := back.Value.(record.Record)
		if !r.Timestamp.After(last.Timestamp) {
			return ErrOlderThanPrevious
		}
	}

	s.records.PushBack(r)
	s.compress()

	if persistCSV {
		if err := s.csv.append(r); err != nil {
			return err
		}
	}

	s.evictRecords(r.Timestamp)
	s.updateSummary(r)
	s.evictSummaries(r.Timestamp)

	if persistCSV {
		if s.store != nil {
			if err := s.store.Checkpoint(s.Name, r.Timestamp, s.accDate, s.accMin, s.accMax); err != nil {
				log.Warnf("series %s: checkpoint failed: %v", s.Name, err)
			}
		}
		if s.bus != nil {
			payload := fmt.Sprintf(`{"name":%q,"timestamp":%d,"value":%q}`, s.Name, r.Timestamp.Unix(), r.Value.String())
			if err := s.bus.Publish("telemetry."+s.Name, []byte(payload)); err != nil {
				log.Debugf("series %s: event publish failed: %v", s.Name, err)
			}
		}
	}
	return nil
}

// compress applies the equal-value run-compression rule: if the last three
// records share a value and span less than allowedDowntime, the middle one
// is removed. Only ever touches the tail of the deque, so it stays O(1).
func (s *Series) compress() {
	back := s.records.Back()
	if back == nil {
		return
	}
	mid := back.Prev()
	if mid == nil {
		return
	}
	first := mid.Prev()
	if first == nil {
		return
	}

	rv := back.Value.(record.Record)
	mv := mid.Value.(record.Record)
	fv := first.Value.(record.Record)

	if rv.Value.Equal(mv.Value) && mv.Value.Equal(fv.Value) &&
		rv.Timestamp.Sub(fv.Timestamp) < s.allowedDowntime {
		s.records.Remove(mid)
	}
}

// evictRecords trims the detail deque to recordDays, measured back from ref
// rather than wall-clock now -- ref is the timestamp of the record that was
// just appended. During Restore that is the replayed record's own
// timestamp, so a record from a year ago isn't evicted the instant it's
// replayed just because today's wall clock is far in the future; by the
// time replay reaches the present, ref converges on real now and the window
// matches live ingestion again.
func (s *Series) evictRecords(ref time.Time) {
	if s.records.Len() == 0 {
		return
	}
	cutoff := ref.Add(-s.recordDays)
	for front := s.records.Front(); front != nil; {
		r := front.Value.(record.Record)
		if !r.Timestamp.Before(cutoff) {
			break
		}
		next := front.Next()
		s.records.Remove(front)
		front = next
	}
}

// evictSummaries trims the summary deque to summaryDays, measured back from
// ref for the same reason evictRecords is: see its comment.
func (s *Series) evictSummaries(ref time.Time) {
	if s.summaries.Len() == 0 {
		return
	}
	cutoff := ref.Add(-s.summaryDays)
	for front := s.summaries.Front(); front != nil; {
		sum := front.Value.(Summary)
		if !sum.Date.Before(cutoff) {
			break
		}
		next := front.Next()
		s.summaries.Remove(front)
		front = next
	}
}

// Current returns the latest record iff it is still fresh (age <=
// allowedDowntime), which is the shared freshness gate used by both the UI
// and the alerter.
func (s *Series) Current() (record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	back := s.records.Back()
	if back == nil {
		return record.Record{}, false
	}
	r := back.Value.(record.Record)
	if s.now().Sub(r.Timestamp) > s.allowedDowntime {
		return record.Record{}, false
	}
	return r, true
}

// Day returns every retained record with timestamp >= now-24h, recomputed
// from the store on every call since it may have mutated between two
// calls (the generator-style views of other implementations of this kind
// of system are not restartable; this is).
func (s *Series) Day() []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-24 * time.Hour)
	return s.recordsSinceLocked(cutoff)
}

// Records returns every record within the retained window, oldest first.
func (s *Series) Records() []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsSinceLocked(time.Time{})
}

func (s *Series) recordsSinceLocked(cutoff time.Time) []record.Record {
	out := make([]record.Record, 0, s.records.Len())
	for e := s.records.Front(); e != nil; e = e.Next() {
		r := e.Value.(record.Record)
		if r.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Summaries returns every retained daily summary, oldest first.
func (s *Series) Summaries() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, 0, s.summaries.Len())
	for e := s.summaries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Summary))
	}
	return out
}

// updateSummary implements the FirstRecord/WithinDay/CrossDay state
// machine from the design (§4.1): on crossing a local calendar-day
// boundary, the previous day's accumulator is emitted as a Summary and a
// fresh accumulator is started.
func (s *Series) updateSummary(r record.Record) {
	day := localDate(r.Timestamp, s.location)

	if s.accDate.IsZero() {
		s.accDate = day
	} else if day.After(s.accDate) {
		s.emitSummary(s.accDate)
		s.accDate = day
		s.accCount = 0
	}

	if s.Kind == record.KindTemperature {
		if s.accCount == 0 || r.Value.Number < s.accMin {
			s.accMin = r.Value.Number
		}
		if s.accCount == 0 || r.Value.Number > s.accMax {
			s.accMax = r.Value.Number
		}
		s.accCount++
	}
}

func (s *Series) emitSummary(date time.Time) {
	switch s.Kind {
	case record.KindTemperature:
		if s.accCount == 0 {
			return
		}
		s.summaries.PushBack(Summary{Date: date, Min: s.accMin, Max: s.accMax})
	case record.KindSwitch:
		dayStart := date
		dayEnd := date.Add(24 * time.Hour)
		allRecords := make([]record.Record, 0, s.records.Len())
		haveDayRecord := false
		for e := s.records.Front(); e != nil; e = e.Next() {
			r := e.Value.(record.Record)
			allRecords = append(allRecords, r)
			if localDate(r.Timestamp, s.location).Equal(date) {
				haveDayRecord = true
			}
		}
		if !haveDayRecord {
			return
		}
		segs := computeSegments(allRecords, s.allowedDowntime, s.assumeLastDuringDowntime)
		uptime := intersectUptime(segs, dayStart, dayEnd)
		s.summaries.PushBack(Summary{Date: date, UptimeHours: uptime.Hours()})
	}
}

// Segments returns the on-intervals for the given slice of records, per the
// Switch downtime-handling rule. Callers typically pass the result of Day
// or Records.
func (s *Series) Segments(recs []record.Record) []Segment {
	return computeSegments(recs, s.allowedDowntime, s.assumeLastDuringDowntime)
}

// MinMax scans rs and returns the (min, max) records. Ties are broken by
// "<=" for the minimum (a later duplicate wins) and by strict "<" for the
// maximum (an earlier duplicate wins), matching the reference
// implementation this behavior is grounded on.
func MinMax(rs []record.Record) (min, max record.Record, ok bool) {
	if len(rs) == 0 {
		return record.Record{}, record.Record{}, false
	}
	min, max = rs[0], rs[0]
	for _, r := range rs[1:] {
		if r.Value.Number <= min.Value.Number {
			min = r
		}
		if r.Value.Number > max.Value.Number {
			max = r
		}
	}
	return min, max, true
}

// Warning returns a user-visible message if the series' current value is
// outside its configured range, per the warning evaluator (plain low/high
// plus an optional threshold expression).
func (s *Series) Warning() (string, bool) {
	if s.warn == nil {
		return "", false
	}
	cur, ok := s.Current()
	if !ok {
		return "", false
	}
	return s.warn.evaluate(cur)
}
