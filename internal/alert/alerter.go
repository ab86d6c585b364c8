// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alert

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kaloix/home-sensor/pkg/log"
)

// Classification is the outcome of checking one series at a supervisor
// tick.
type Classification int

const (
	OK Classification = iota
	MissingData
	OutOfRangeLow
	OutOfRangeHigh
)

func (c Classification) String() string {
	switch c {
	case OK:
		return "ok"
	case MissingData:
		return "missing-data"
	case OutOfRangeLow:
		return "out-of-range-low"
	case OutOfRangeHigh:
		return "out-of-range-high"
	default:
		return "unknown"
	}
}

// ValueCooldown is the minimum interval between two emissions of the same
// out-of-range alert key.
const ValueCooldown = 24 * time.Hour

// MissingDataCooldown is the (much longer) minimum interval between two
// emissions of the same repeated-no-data alert key, since a sensor outage
// the operator has already been told about does not need daily reminders.
const MissingDataCooldown = 30 * 24 * time.Hour

// Checkpointer persists cool-down deadlines and missing-data failure
// counters across restarts. A nil Checkpointer (or a failed call) degrades
// gracefully: the alerter simply forgets cool-downs across a restart, which
// risks at most one duplicate email, never a lost one; a forgotten failure
// counter just restarts the count from one on the next outage.
type Checkpointer interface {
	SaveCooldown(key uint64, until time.Time) error
	LoadCooldowns() (map[uint64]time.Time, error)
	SaveFailureCount(seriesName string, count int) error
	LoadFailureCounts() (map[string]int, error)
}

// Clock is the same style of injected time source used by the series
// package, so cool-down tests are deterministic.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Alerter batches classification results into deduplicated, cooled-down
// messages and flushes them as a single "Warnung" email per tick, exactly
// as the reference notifier's MailSender.queue/send_all pair does.
type Alerter struct {
	mailer  Mailer
	userTo  string
	adminTo string
	store   Checkpointer
	clock   Clock

	mu        sync.Mutex
	cooldow   map[uint64]time.Time
	failCount map[string]int
	pending   []string
}

func NewAlerter(mailer Mailer, userAddress, adminAddress string, store Checkpointer, clock Clock) *Alerter {
	if clock == nil {
		clock = SystemClock{}
	}
	a := &Alerter{
		mailer:    mailer,
		userTo:    userAddress,
		adminTo:   adminAddress,
		store:     store,
		clock:     clock,
		cooldow:   make(map[uint64]time.Time),
		failCount: make(map[string]int),
	}
	if store != nil {
		if loaded, err := store.LoadCooldowns(); err == nil {
			a.cooldow = loaded
		} else {
			log.Warnf("alert: load cooldowns: %v", err)
		}
		if loaded, err := store.LoadFailureCounts(); err == nil {
			a.failCount = loaded
		} else {
			log.Warnf("alert: load failure counters: %v", err)
		}
	}
	return a
}

// Classify maps a series' current state into a Classification, the single
// decision point every other alerting behavior branches from.
func Classify(hasCurrent bool, value float64, low, high float64) Classification {
	if !hasCurrent {
		return MissingData
	}
	if value < low {
		return OutOfRangeLow
	}
	if value > high {
		return OutOfRangeHigh
	}
	return OK
}

// Report queues a message for the given classification, honoring the
// appropriate cool-down window. Messages queued within a cool-down window
// are dropped silently, matching the reference implementation. A
// MissingData report also advances that series' failure counter, which is
// included in the message so an operator can tell a first outage from a
// thirtieth one even though both are throttled to the same cool-down.
func (a *Alerter) Report(seriesName string, class Classification, detail string) {
	if class == OK {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var message string
	if class == MissingData {
		a.failCount[seriesName]++
		if a.store != nil {
			if err := a.store.SaveFailureCount(seriesName, a.failCount[seriesName]); err != nil {
				log.Warnf("alert: save failure counter: %v", err)
			}
		}
		message = formatMessage(seriesName, class, detail, a.failCount[seriesName])
	} else {
		message = formatMessage(seriesName, class, detail, 0)
	}

	cooldown := ValueCooldown
	if class == MissingData {
		cooldown = MissingDataCooldown
	}

	k := key(fmt.Sprintf("%s:%s", seriesName, class))
	now := a.clock.Now()

	if until, ok := a.cooldow[k]; ok && until.After(now) {
		return
	}
	a.cooldow[k] = now.Add(cooldown)
	a.pending = append(a.pending, message)
	log.Warnf("alert: %s", message)

	if a.store != nil {
		if err := a.store.SaveCooldown(k, a.cooldow[k]); err != nil {
			log.Warnf("alert: save cooldown: %v", err)
		}
	}
}

// ClearFailure resets a series' missing-data failure counter once it starts
// reporting fresh data again, so the next outage's counter starts back at
// one instead of continuing a stale streak.
func (a *Alerter) ClearFailure(seriesName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failCount[seriesName] == 0 {
		return
	}
	delete(a.failCount, seriesName)
	if a.store != nil {
		if err := a.store.SaveFailureCount(seriesName, 0); err != nil {
			log.Warnf("alert: clear failure counter: %v", err)
		}
	}
}

func formatMessage(seriesName string, class Classification, detail string, failCount int) string {
	switch class {
	case MissingData:
		return fmt.Sprintf("%s: keine Daten (Ausfall Nr. %d)", seriesName, failCount)
	case OutOfRangeLow:
		return fmt.Sprintf("%s: %s unter Grenzwert", seriesName, detail)
	case OutOfRangeHigh:
		return fmt.Sprintf("%s: %s ueber Grenzwert", seriesName, detail)
	default:
		return fmt.Sprintf("%s: %s", seriesName, detail)
	}
}

// Flush sends every message queued since the last Flush as one batched
// "Warnung" email, then clears the queue. Call once per supervisor tick,
// after every series has been classified. If the send fails, the messages
// are put back at the front of the queue so the next tick retries them --
// their cool-downs are already set at Report time, so losing a send would
// otherwise mean the operator is never told at all.
func (a *Alerter) Flush() error {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := a.mailer.Send("Warnung", strings.Join(pending, "\n"), a.userTo); err != nil {
		a.mu.Lock()
		a.pending = append(pending, a.pending...)
		a.mu.Unlock()
		return err
	}
	return nil
}

// ReportCrash sends an immediate, unbatched "Programmabsturz" email to the
// admin address. Call this from a deferred recover() in the supervisor's
// top-level run loop.
func (a *Alerter) ReportCrash(r any, stack []byte) error {
	body := fmt.Sprintf("%v\n\n%s", r, stack)
	return a.mailer.Send("Programmabsturz", body, a.adminTo)
}
