// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package alert classifies series state every supervisor tick, deduplicates
// and cools down repeated alerts, and batches the survivors into the
// human-facing emails the aggregator sends.
package alert

import "hash/fnv"

// key derives a stable dedup key from its input; Report passes
// "<series>:<classification>", not the rendered message text. hash/fnv is
// used in place of the reference implementation's built-in hash() because
// that function is randomized per-process in the language it's written in;
// fnv-1a is a pure function of its input, so the same input always maps to
// the same key even across a process restart, which is what makes the
// cool-down meaningful when paired with the durable side-store.
func key(message string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(message))
	return h.Sum64()
}
