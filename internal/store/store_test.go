// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestCheckpointRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ts := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Checkpoint("garden", ts, day, 10, 25); err != nil {
		t.Fatal(err)
	}

	lastTS, _, accMin, accMax, ok, err := s.LoadCheckpoint("garden")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a checkpoint to exist")
	}
	if !lastTS.Equal(ts) || accMin != 10 || accMax != 25 {
		t.Fatalf("unexpected checkpoint: lastTS=%v min=%v max=%v", lastTS, accMin, accMax)
	}
}

func TestCheckpointOverwrites(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Checkpoint("garden", day, day, 10, 25); err != nil {
		t.Fatal(err)
	}
	if err := s.Checkpoint("garden", day.Add(time.Hour), day, 9, 26); err != nil {
		t.Fatal(err)
	}

	_, _, accMin, accMax, ok, err := s.LoadCheckpoint("garden")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a checkpoint to exist")
	}
	if accMin != 9 || accMax != 26 {
		t.Fatalf("expected the second checkpoint to overwrite the first, got min=%v max=%v", accMin, accMax)
	}
}

func TestLoadCheckpointMissingSeries(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	_, _, _, _, ok, err := s.LoadCheckpoint("nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no checkpoint for an unknown series")
	}
}

func TestCooldownRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	until := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	if err := s.SaveCooldown(42, until); err != nil {
		t.Fatal(err)
	}

	cooldowns, err := s.LoadCooldowns()
	if err != nil {
		t.Fatal(err)
	}
	got, ok := cooldowns[42]
	if !ok {
		t.Fatal("expected cooldown key 42 to be present")
	}
	if !got.Equal(until) {
		t.Fatalf("expected %v, got %v", until, got)
	}
}

func TestFailureCounterRoundTripAndClear(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.SaveFailureCount("pump", 3); err != nil {
		t.Fatal(err)
	}
	counts, err := s.LoadFailureCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts["pump"] != 3 {
		t.Fatalf("expected pump counter 3, got %d", counts["pump"])
	}

	if err := s.SaveFailureCount("pump", 0); err != nil {
		t.Fatal(err)
	}
	counts, err = s.LoadFailureCounts()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := counts["pump"]; ok {
		t.Fatal("expected clearing the counter to remove the row")
	}
}
