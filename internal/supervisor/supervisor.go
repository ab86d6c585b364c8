// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor owns every Series mutation on the aggregator side: it
// is the sole caller of Series.Append across the whole process, so
// concurrent HTTP workers funneling through Dispatch are serialized per
// series by that Series' own mutex rather than by a shared dispatch
// goroutine -- the ingest server still answers each request synchronously
// with 201/4xx/5xx, which a channel handoff would complicate for no
// benefit here. It also runs the periodic classification/alert-flush tick
// via gocron/v2 instead of a hand-rolled ticker goroutine.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/kaloix/home-sensor/internal/alert"
	"github.com/kaloix/home-sensor/internal/eventbus"
	"github.com/kaloix/home-sensor/internal/ingest"
	"github.com/kaloix/home-sensor/internal/metrics"
	"github.com/kaloix/home-sensor/internal/series"
	"github.com/kaloix/home-sensor/pkg/log"
	"github.com/kaloix/home-sensor/pkg/record"
)

// SeriesLookup maps an incoming (group, name) ingest request to the Series
// it belongs to. The group is part of the wire contract but the series
// registry itself is keyed purely by name, since names are already unique
// across the whole fleet.
type SeriesLookup interface {
	Get(name string) (*series.Series, bool)
	All() []*series.Series
}

// Supervisor implements ingest.Dispatcher and runs the periodic alert
// tick.
type Supervisor struct {
	series  SeriesLookup
	alerter *alert.Alerter
	bus     *eventbus.Client
	metrics *metrics.Registry

	scheduler gocron.Scheduler
	tickEvery time.Duration
}

// Config configures a Supervisor.
type Config struct {
	Series    SeriesLookup
	Alerter   *alert.Alerter
	Bus       *eventbus.Client
	Metrics   *metrics.Registry
	TickEvery time.Duration
}

const DefaultTickInterval = time.Minute

// New constructs a Supervisor and its gocron scheduler, without starting
// it.
func New(cfg Config) (*Supervisor, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("supervisor: new scheduler: %w", err)
	}
	tick := cfg.TickEvery
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Supervisor{
		series:    cfg.Series,
		alerter:   cfg.Alerter,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		scheduler: sched,
		tickEvery: tick,
	}, nil
}

// Dispatch appends one ingested record to its Series. It is the only
// caller of Series.Append in the whole process -- every HTTP worker
// funnels here instead of touching a Series directly, and each Series'
// own mutex (not a channel) is what keeps concurrent appends to the same
// series safe.
func (s *Supervisor) Dispatch(ctx context.Context, req ingest.Request) error {
	ser, ok := s.series.Get(req.Name)
	if !ok {
		if s.metrics != nil {
			s.metrics.RecordsRejected.WithLabelValues("unknown-series").Inc()
		}
		return fmt.Errorf("supervisor: unknown series %q", req.Name)
	}

	var value record.Value
	switch ser.Kind {
	case record.KindTemperature:
		var v float64
		if err := parseNumber(req.Value, &v); err != nil {
			if s.metrics != nil {
				s.metrics.RecordsRejected.WithLabelValues("bad-value").Inc()
			}
			return fmt.Errorf("supervisor: %w", err)
		}
		value = record.NumberValue(v)
	case record.KindSwitch:
		var v bool
		if err := parseBool(req.Value, &v); err != nil {
			if s.metrics != nil {
				s.metrics.RecordsRejected.WithLabelValues("bad-value").Inc()
			}
			return fmt.Errorf("supervisor: %w", err)
		}
		value = record.BoolValue(v)
	}

	r := record.FromUnix(req.Timestamp, value)
	if err := ser.Append(r); err != nil {
		if s.metrics != nil {
			s.metrics.RecordsRejected.WithLabelValues("out-of-order").Inc()
		}
		return fmt.Errorf("supervisor: append %s: %w", req.Name, err)
	}

	if s.metrics != nil {
		s.metrics.RecordsIngested.WithLabelValues(req.Name).Inc()
	}
	return nil
}

// Start registers the periodic classification tick and starts the
// scheduler. It returns immediately; the scheduler runs its own
// goroutines until Stop is called.
func (s *Supervisor) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.tickEvery),
		gocron.NewTask(s.tick),
	)
	if err != nil {
		return fmt.Errorf("supervisor: register tick job: %w", err)
	}
	s.scheduler.Start()
	return nil
}

// Stop drains the scheduler, blocking until its current job (if any)
// finishes.
func (s *Supervisor) Stop() error {
	return s.scheduler.Shutdown()
}

// tick classifies every series and flushes any alerts the classification
// produced. It is the single place the alert cool-down windows and the
// email batching meet.
func (s *Supervisor) tick() {
	start := time.Now()
	for _, ser := range s.series.All() {
		s.classifyOne(ser)
	}
	if err := s.alerter.Flush(); err != nil {
		log.Errorf("supervisor: flush alerts: %v", err)
	}
	if s.metrics != nil {
		s.metrics.SupervisorTickDur.Observe(time.Since(start).Seconds())
	}
}

func (s *Supervisor) classifyOne(ser *series.Series) {
	cur, fresh := ser.Current()

	if !fresh {
		if ser.FailNotify {
			s.alerter.Report(ser.Name, alert.MissingData, "")
			s.publishAlert(ser.Name, "missing-data")
		}
		return
	}
	s.alerter.ClearFailure(ser.Name)

	if ser.Kind != record.KindTemperature {
		return
	}

	class := alert.Classify(true, cur.Value.Number, ser.Low, ser.High)
	if class == alert.OK {
		return
	}
	s.alerter.Report(ser.Name, class, cur.Value.String())
	s.publishAlert(ser.Name, class.String())
}

func (s *Supervisor) publishAlert(seriesName, classification string) {
	if s.metrics != nil {
		s.metrics.AlertsFired.WithLabelValues(classification).Inc()
	}
	if s.bus == nil {
		return
	}
	payload := fmt.Sprintf(`{"series":%q,"classification":%q}`, seriesName, classification)
	if err := s.bus.Publish("alerts."+seriesName, []byte(payload)); err != nil {
		log.Debugf("supervisor: publish alert: %v", err)
	}
}
