// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package outbox implements the station agent's durable, at-least-once
// delivery buffer: every reading is appended to an on-disk queue before
// the agent ever attempts to send it, so a crash or a stretch offline
// never loses a reading, only delays it.
package outbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Entry is one queued ingest request: a sensor name and the JSON-encodable
// payload to POST for it. Payload is kept as json.RawMessage so the outbox
// never needs to understand the ingest wire schema, only to persist and
// replay it byte-for-byte.
type Entry struct {
	Series  string          `json:"series"`
	Payload json.RawMessage `json:"payload"`
}

// file persists a FIFO queue of Entries as newline-delimited JSON. Every
// mutation rewrites the whole file atomically via a temp-file-plus-rename,
// which is simple, crash-safe, and cheap enough at this queue's expected
// size (a few thousand entries during a prolonged outage at most).
type file struct {
	path string
}

func newFile(path string) *file {
	return &file{path: path}
}

// load reads every queued entry, in FIFO order. A missing file is an empty
// queue, not an error -- the common case on first start.
func (f *file) load() ([]Entry, error) {
	r, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer r.Close()

	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("outbox: malformed entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// save rewrites the queue file to hold exactly entries, atomically.
func (f *file) save(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".outbox-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
		if _, err := w.Write(b); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}
