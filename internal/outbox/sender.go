// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kaloix/home-sensor/pkg/log"
)

// DefaultFlushInterval matches the reference station agent's coarse,
// fixed-interval retry: a flaky uplink is not worth the complexity of
// exponential backoff when readings already arrive no faster than once a
// minute.
const DefaultFlushInterval = 10 * time.Second

// Transport is the narrow interface BufferedSender needs from an HTTP
// client, so tests can substitute a fake without standing up a real mTLS
// listener. Post returns the response status, or an error on a transport
// failure; isTransientStatus then decides whether the status pauses the
// whole flush (network down, 5xx) or consumes the entry as permanently
// rejected (4xx).
type Transport interface {
	Post(ctx context.Context, series string, payload json.RawMessage) (status int, err error)
}

// HTTPTransport posts each Entry's payload as a JSON body to <baseURL>/,
// the aggregator's single ingest route, over the given *http.Client, which
// callers configure with the station's mTLS client certificate.
type HTTPTransport struct {
	Client  *http.Client
	BaseURL string
}

func (t *HTTPTransport) Post(ctx context.Context, series string, payload json.RawMessage) (int, error) {
	url := fmt.Sprintf("%s/", strings.TrimRight(t.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// isTransientStatus reports whether status should pause the flush rather
// than consume the entry. 5xx and anything outside the recognized range is
// always transient. 2xx is always terminal. 4xx is terminal by default
// (the default policy: a 4xx is presumed a permanent rejection that will
// never succeed on retry), unless treat4xxAsTransient opts back into the
// conservative leave-in-outbox policy.
func isTransientStatus(status int, treat4xxAsTransient bool) bool {
	if status >= 200 && status < 300 {
		return false
	}
	if status >= 400 && status < 500 {
		return treat4xxAsTransient
	}
	return true
}

// BufferedSender is a station agent's outgoing queue: Send enqueues
// without blocking the caller, and a background flusher drains the queue
// against Transport on DefaultFlushInterval, persisting the queue to disk
// after every flush attempt so a crash mid-backlog loses nothing.
//
// Delivery policy on flush, grounded on the reference agent's buffer loop:
// entries are sent in FIFO order; a 2xx or 4xx response consumes the entry
// (a 4xx is presumed a permanent rejection, e.g. a malformed payload, and
// retrying it would never succeed); a transport error or 5xx response
// aborts the flush, leaving that entry and everything behind it queued for
// the next attempt.
type BufferedSender struct {
	transport           Transport
	file                *file
	interval            time.Duration
	treat4xxAsTransient bool

	mu      sync.Mutex
	queue   []Entry
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// Config configures a BufferedSender.
type Config struct {
	Transport     Transport
	QueuePath     string
	FlushInterval time.Duration

	// Treat4xxAsTransient opts back into the conservative leave-in-outbox
	// policy for 4xx responses instead of consuming them as a permanent
	// rejection.
	Treat4xxAsTransient bool
}

// NewBufferedSender constructs a sender and loads any backlog left on disk
// from a prior run.
func NewBufferedSender(cfg Config) (*BufferedSender, error) {
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	f := newFile(cfg.QueuePath)
	queue, err := f.load()
	if err != nil {
		return nil, err
	}
	return &BufferedSender{
		transport:           cfg.Transport,
		file:                f,
		interval:            interval,
		treat4xxAsTransient: cfg.Treat4xxAsTransient,
		queue:               queue,
		wake:                make(chan struct{}, 1),
		done:                make(chan struct{}),
		stopped:             make(chan struct{}),
	}, nil
}

// Send enqueues an entry and persists the queue immediately, so the
// reading survives a crash even before the next flush cycle runs. It never
// blocks on network I/O.
func (s *BufferedSender) Send(series string, payload json.RawMessage) error {
	s.mu.Lock()
	s.queue = append(s.queue, Entry{Series: series, Payload: payload})
	queue := append([]Entry(nil), s.queue...)
	s.mu.Unlock()

	if err := s.file.save(queue); err != nil {
		return fmt.Errorf("outbox: persist queue: %w", err)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start runs the background flusher. It returns once Stop is called and
// the final flush attempt has completed, or as soon as ctx is canceled, in
// which case no final flush is made.
func (s *BufferedSender) Start(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.wake:
			s.flush(ctx)
		case <-ticker.C:
			s.flush(ctx)
		case <-s.done:
			s.flush(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the flusher to drain once more and exit, then waits for it.
func (s *BufferedSender) Stop() {
	close(s.done)
	<-s.stopped
}

// Pending returns the number of entries still queued.
func (s *BufferedSender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *BufferedSender) flush(ctx context.Context) {
	s.mu.Lock()
	queue := append([]Entry(nil), s.queue...)
	s.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	start := time.Now()
	sent := 0
	for _, e := range queue {
		status, err := s.transport.Post(ctx, e.Series, e.Payload)
		if err != nil {
			log.Warnf("outbox: postpone send: %v", err)
			break
		}
		if isTransientStatus(status, s.treat4xxAsTransient) {
			log.Warnf("outbox: postpone send: status %d", status)
			break
		}
		if status >= 400 {
			log.Errorf("outbox: entry for %s rejected with status %d, dropping", e.Series, status)
		}
		sent++
	}

	s.mu.Lock()
	s.queue = s.queue[sent:]
	remaining := append([]Entry(nil), s.queue...)
	s.mu.Unlock()

	if err := s.file.save(remaining); err != nil {
		log.Errorf("outbox: persist queue after flush: %v", err)
	}

	if sent > 0 {
		log.Infof("outbox: sent %d entr%s in %.1fs, %d remaining",
			sent, plural(sent), time.Since(start).Seconds(), len(remaining))
	}
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
