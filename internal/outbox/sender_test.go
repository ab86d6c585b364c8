// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package outbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
)

// fakeTransport simulates a flaky uplink: it fails every Post until
// failUntil posts have been attempted, then succeeds.
type fakeTransport struct {
	mu        sync.Mutex
	attempts  int
	failUntil int
	received  []string
}

func (f *fakeTransport) Post(ctx context.Context, series string, payload json.RawMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failUntil {
		return 0, context.DeadlineExceeded
	}
	f.received = append(f.received, series)
	return 201, nil
}

func TestBufferedSenderFlaky(t *testing.T) {
	transport := &fakeTransport{failUntil: 2}
	sender, err := NewBufferedSender(Config{
		Transport: transport,
		QueuePath: filepath.Join(t.TempDir(), "outbox.ndjson"),
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"a", "b", "c"} {
		if err := sender.Send(name, json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}
	}

	// First flush attempt fails outright (attempts 1 counts against the
	// whole batch, since Post is only called once before the transport
	// error aborts the loop).
	sender.flush(context.Background())
	if sender.Pending() != 3 {
		t.Fatalf("expected all 3 entries still queued after a failed flush, got %d", sender.Pending())
	}

	// Second attempt also fails (attempts == 2).
	sender.flush(context.Background())
	if sender.Pending() != 3 {
		t.Fatalf("expected entries still queued after second failed flush, got %d", sender.Pending())
	}

	// Third attempt succeeds for all three, since the transport now
	// accepts every Post.
	sender.flush(context.Background())
	if sender.Pending() != 0 {
		t.Fatalf("expected empty queue after a successful flush, got %d", sender.Pending())
	}
	if len(transport.received) != 3 {
		t.Fatalf("expected 3 entries delivered, got %d", len(transport.received))
	}
}

func TestBufferedSenderRestartRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.ndjson")
	transport := &fakeTransport{failUntil: 1000} // never succeeds

	sender, err := NewBufferedSender(Config{Transport: transport, QueuePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := sender.Send("garden", json.RawMessage(`{"value":20}`)); err != nil {
		t.Fatal(err)
	}
	sender.flush(context.Background())
	if sender.Pending() != 1 {
		t.Fatalf("expected entry to remain queued, got %d", sender.Pending())
	}

	// Simulate a restart: a fresh sender loads the same queue file.
	reopened, err := NewBufferedSender(Config{Transport: transport, QueuePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Pending() != 1 {
		t.Fatalf("expected queue to survive a restart, got %d pending", reopened.Pending())
	}
}

func TestBufferedSenderDropsRejectedEntry(t *testing.T) {
	rejecting := &rejectTransport{}
	sender, err := NewBufferedSender(Config{
		Transport: rejecting,
		QueuePath: filepath.Join(t.TempDir(), "outbox.ndjson"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sender.Send("garden", json.RawMessage(`{"value":"not a number"}`)); err != nil {
		t.Fatal(err)
	}

	sender.flush(context.Background())
	if sender.Pending() != 0 {
		t.Fatalf("expected a 4xx entry to be consumed rather than retried, got %d pending", sender.Pending())
	}
}

type rejectTransport struct{}

func (rejectTransport) Post(ctx context.Context, series string, payload json.RawMessage) (int, error) {
	return 400, nil
}
