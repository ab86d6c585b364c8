// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alert

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeMailer struct {
	sent []string
}

func (m *fakeMailer) Send(subject, body, to string) error {
	m.sent = append(m.sent, subject+"|"+to+"|"+body)
	return nil
}

type fakeClock struct{ at time.Time }

func (c *fakeClock) Now() time.Time { return c.at }

type failMailer struct {
	failNext int
	sent     []string
}

func (m *failMailer) Send(subject, body, to string) error {
	if m.failNext > 0 {
		m.failNext--
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, subject+"|"+to+"|"+body)
	return nil
}

func TestOutOfRangeAlertCooldown(t *testing.T) {
	mailer := &fakeMailer{}
	clock := &fakeClock{at: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	a := NewAlerter(mailer, "user@example.com", "admin@example.com", nil, clock)

	// t0: first out-of-range reading, expect one queued message.
	a.Report("garden", OutOfRangeLow, "5.0")
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one email after the first out-of-range report, got %d", len(mailer.sent))
	}

	// t0+1h: same condition, still within cool-down, expect no new email.
	clock.at = clock.at.Add(time.Hour)
	a.Report("garden", OutOfRangeLow, "5.0")
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected cool-down to suppress a repeat email, got %d total", len(mailer.sent))
	}

	// t0+25h: cool-down has expired, expect one new email.
	clock.at = clock.at.Add(24 * time.Hour)
	a.Report("garden", OutOfRangeLow, "5.0")
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 2 {
		t.Fatalf("expected a new email once the cool-down expired, got %d total", len(mailer.sent))
	}
}

func TestMissingDataLongerCooldown(t *testing.T) {
	mailer := &fakeMailer{}
	clock := &fakeClock{at: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	a := NewAlerter(mailer, "user@example.com", "admin@example.com", nil, clock)

	a.Report("pump", MissingData, "")
	a.Flush()

	clock.at = clock.at.Add(24 * time.Hour)
	a.Report("pump", MissingData, "")
	a.Flush()
	if len(mailer.sent) != 1 {
		t.Fatalf("expected the 30-day missing-data cooldown to still suppress after 24h, got %d emails", len(mailer.sent))
	}

	clock.at = clock.at.Add(31 * 24 * time.Hour)
	a.Report("pump", MissingData, "")
	a.Flush()
	if len(mailer.sent) != 2 {
		t.Fatalf("expected a new email once the 30-day cooldown expired, got %d", len(mailer.sent))
	}
}

func TestMissingDataCounterIncrementsAndResets(t *testing.T) {
	mailer := &fakeMailer{}
	clock := &fakeClock{at: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	a := NewAlerter(mailer, "user@example.com", "admin@example.com", nil, clock)

	a.Report("pump", MissingData, "")
	a.Flush()
	if !strings.Contains(mailer.sent[0], "Ausfall Nr. 1") {
		t.Fatalf("expected first outage to report counter 1, got %q", mailer.sent[0])
	}

	clock.at = clock.at.Add(31 * 24 * time.Hour)
	a.Report("pump", MissingData, "")
	a.Flush()
	if !strings.Contains(mailer.sent[1], "Ausfall Nr. 2") {
		t.Fatalf("expected second outage to report counter 2, got %q", mailer.sent[1])
	}

	a.ClearFailure("pump")
	clock.at = clock.at.Add(31 * 24 * time.Hour)
	a.Report("pump", MissingData, "")
	a.Flush()
	if !strings.Contains(mailer.sent[2], "Ausfall Nr. 1") {
		t.Fatalf("expected counter to restart at 1 after ClearFailure, got %q", mailer.sent[2])
	}
}

func TestOKClassificationNeverQueues(t *testing.T) {
	mailer := &fakeMailer{}
	a := NewAlerter(mailer, "user@example.com", "admin@example.com", nil, &fakeClock{})
	a.Report("garden", OK, "20.0")
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("expected OK classification to never queue a message, got %d sent", len(mailer.sent))
	}
}

func TestBatchedMultipleSeriesIntoOneEmail(t *testing.T) {
	mailer := &fakeMailer{}
	a := NewAlerter(mailer, "user@example.com", "admin@example.com", nil, &fakeClock{})
	a.Report("garden", OutOfRangeLow, "5.0")
	a.Report("pump", MissingData, "")
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected both alerts batched into a single email, got %d", len(mailer.sent))
	}
}

func TestFlushRequeuesOnSendFailure(t *testing.T) {
	mailer := &failMailer{failNext: 1}
	a := NewAlerter(mailer, "user@example.com", "admin@example.com", nil, &fakeClock{})
	a.Report("garden", OutOfRangeLow, "5.0")

	if err := a.Flush(); err == nil {
		t.Fatal("expected the first flush to surface the mailer's error")
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("expected no email sent on a failed flush, got %d", len(mailer.sent))
	}

	if err := a.Flush(); err != nil {
		t.Fatalf("expected the retried flush to succeed, got %v", err)
	}
	if len(mailer.sent) != 1 || !strings.Contains(mailer.sent[0], "garden") {
		t.Fatalf("expected the requeued message to go out on retry, got %v", mailer.sent)
	}
}

func TestReportCrashIsUnbatchedAndGoesToAdmin(t *testing.T) {
	mailer := &fakeMailer{}
	a := NewAlerter(mailer, "user@example.com", "admin@example.com", nil, &fakeClock{})
	if err := a.ReportCrash("boom", []byte("stack trace")); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one crash email, got %d", len(mailer.sent))
	}
	if mailer.sent[0][:8] != "Programm" {
		t.Fatalf("expected crash email to use the Programmabsturz subject, got %q", mailer.sent[0])
	}
}

func TestClassify(t *testing.T) {
	if Classify(false, 0, 10, 30) != MissingData {
		t.Fatal("expected MissingData when no current value exists")
	}
	if Classify(true, 5, 10, 30) != OutOfRangeLow {
		t.Fatal("expected OutOfRangeLow below low bound")
	}
	if Classify(true, 35, 10, 30) != OutOfRangeHigh {
		t.Fatal("expected OutOfRangeHigh above high bound")
	}
	if Classify(true, 20, 10, 30) != OK {
		t.Fatal("expected OK within bounds")
	}
}
