// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package series

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kaloix/home-sensor/pkg/record"
)

// encodeLine renders a Record the way the aggregator's append-only CSV
// files expect it: "<unix_seconds>,<value>", where value is either a
// decimal number or the literal token True/False.
func encodeLine(r record.Record) string {
	switch r.Value.Kind {
	case record.KindSwitch:
		if r.Value.Bool {
			return fmt.Sprintf("%d,True", r.Timestamp.Unix())
		}
		return fmt.Sprintf("%d,False", r.Timestamp.Unix())
	default:
		return fmt.Sprintf("%d,%s", r.Timestamp.Unix(), strconv.FormatFloat(r.Value.Number, 'f', -1, 64))
	}
}

// decodeLine parses one CSV line back into a Record of the given kind. The
// parser recognizes True/False as booleans and otherwise expects a real
// number, and rejects a value whose type does not match kind -- this lets
// the decoder double as a validator for misconfigured series.
func decodeLine(line string, kind record.Kind) (record.Record, error) {
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return record.Record{}, fmt.Errorf("series: malformed csv line %q", line)
	}

	sec, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return record.Record{}, fmt.Errorf("series: malformed csv timestamp %q: %w", parts[0], err)
	}

	raw := strings.TrimSpace(parts[1])
	switch raw {
	case "True":
		if kind != record.KindSwitch {
			return record.Record{}, fmt.Errorf("series: boolean value %q for non-switch series", raw)
		}
		return record.FromUnix(sec, record.BoolValue(true)), nil
	case "False":
		if kind != record.KindSwitch {
			return record.Record{}, fmt.Errorf("series: boolean value %q for non-switch series", raw)
		}
		return record.FromUnix(sec, record.BoolValue(false)), nil
	default:
		if kind != record.KindTemperature {
			return record.Record{}, fmt.Errorf("series: numeric value %q for non-temperature series", raw)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return record.Record{}, fmt.Errorf("series: malformed csv value %q: %w", raw, err)
		}
		return record.FromUnix(sec, record.NumberValue(v)), nil
	}
}

// csvStore appends Records to year-partitioned files under dataDir, named
// "<name>_<year>.csv", and can replay them back at startup.
type csvStore struct {
	dataDir string
	name    string

	year int
	file *os.File
	buf  *bufio.Writer
}

func newCSVStore(dataDir, name string) *csvStore {
	return &csvStore{dataDir: dataDir, name: name}
}

func (c *csvStore) path(year int) string {
	return filepath.Join(c.dataDir, fmt.Sprintf("%s_%d.csv", c.name, year))
}

// append opens (or reuses) the file for r's UTC year and writes one line.
// Each call flushes immediately: the CSV is the durability boundary for a
// Series, so a buffered write that never reaches disk would silently
// violate the append-once guarantee.
func (c *csvStore) append(r record.Record) error {
	year := r.Timestamp.Year()
	if c.file == nil || year != c.year {
		if c.file != nil {
			c.buf.Flush()
			c.file.Close()
		}
		if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(c.path(year), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		c.file = f
		c.buf = bufio.NewWriter(f)
		c.year = year
	}

	if _, err := c.buf.WriteString(encodeLine(r) + "\n"); err != nil {
		return err
	}
	if err := c.buf.Flush(); err != nil {
		return err
	}
	return c.file.Sync()
}

func (c *csvStore) close() error {
	if c.file == nil {
		return nil
	}
	c.buf.Flush()
	return c.file.Close()
}

// replay reads every record from the CSV partitions for the given years,
// in ascending order, used to rebuild the in-memory deque at startup.
func replay(dataDir, name string, kind record.Kind, years []int) ([]record.Record, error) {
	var out []record.Record
	for _, year := range years {
		path := filepath.Join(dataDir, fmt.Sprintf("%s_%d.csv", name, year))
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			r, err := decodeLine(line, kind)
			if err != nil {
				f.Close()
				return nil, err
			}
			out = append(out, r)
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
