// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/kaloix/home-sensor/pkg/log"
)

// wireRecord is the exact shape spec.md's ingest body describes: a
// required {group, name, timestamp, value} plus an optional legacy
// _token, which is stripped before the rest of the body is dispatched.
type wireRecord struct {
	Group     string          `json:"group"`
	Name      string          `json:"name"`
	Timestamp int64           `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
	Token     string          `json:"_token,omitempty"`
}

// handleIngest is the single POST handler every mTLS-authenticated client
// talks to. It acquires a worker slot (bounding concurrent in-flight
// requests regardless of how many TCP connections are open), parses and
// validates the body, optionally checks the legacy JWT token, and blocks
// on the Dispatcher before responding -- mirroring the reference
// implementation's synchronous accept-then-201 contract.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	select {
	case s.sema <- struct{}{}:
		defer func() { <-s.sema }()
	default:
		http.Error(w, "too many concurrent requests", http.StatusServiceUnavailable)
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		http.Error(w, "bad content type", http.StatusBadRequest)
		return
	}

	var body wireRecord
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if body.Group == "" || body.Name == "" || len(body.Value) == 0 {
		http.Error(w, "missing required field", http.StatusBadRequest)
		return
	}

	if s.cfg.JWTSecret != "" {
		if err := verifyToken(body.Token, s.cfg.JWTSecret); err != nil {
			log.Warnf("ingest: token rejected from %s: %v", r.RemoteAddr, err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	req := Request{
		Group:      body.Group,
		Name:       body.Name,
		Timestamp:  body.Timestamp,
		Value:      body.Value,
		RemoteAddr: r.RemoteAddr,
	}

	if err := s.cfg.Dispatcher.Dispatch(r.Context(), req); err != nil {
		log.Errorf("ingest: dispatch %s/%s: %v", body.Group, body.Name, err)
		http.Error(w, "bad parameters", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
}
