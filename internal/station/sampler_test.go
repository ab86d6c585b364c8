// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package station

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kaloix/home-sensor/internal/config"
)

type fakeSender struct {
	sent []struct {
		series  string
		payload json.RawMessage
	}
}

func (f *fakeSender) Send(series string, payload json.RawMessage) error {
	f.sent = append(f.sent, struct {
		series  string
		payload json.RawMessage
	}{series, payload})
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensor")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMDegCelsiusReader(t *testing.T) {
	path := writeFile(t, "21500\n")
	r, err := NewReader(config.ReaderMDegCelsius, path)
	if err != nil {
		t.Fatal(err)
	}
	v, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v != 21.5 {
		t.Fatalf("expected 21.5, got %v", v)
	}
}

func TestDS18B20Reader(t *testing.T) {
	path := writeFile(t, "3a 01 4b 46 7f ff 0c 10 57 : crc=57 YES\n3a 01 4b 46 7f ff 0c 10 57 t=21312\n")
	r, err := NewReader(config.ReaderDS18B20, path)
	if err != nil {
		t.Fatal(err)
	}
	v, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v != 21.312 {
		t.Fatalf("expected 21.312, got %v", v)
	}
}

func TestDS18B20ReaderCRCFailure(t *testing.T) {
	path := writeFile(t, "3a 01 4b 46 7f ff 0c 10 57 : crc=57 NO\n3a 01 4b 46 7f ff 0c 10 57 t=21312\n")
	r, err := NewReader(config.ReaderDS18B20, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(); err == nil {
		t.Fatal("expected an error when the sensor reports a CRC failure")
	}
}

func TestSamplerPublishesToEachOutput(t *testing.T) {
	path := writeFile(t, "20000\n")
	sender := &fakeSender{}
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	inputs := []config.Input{{
		Station:  1,
		Type:     config.ReaderMDegCelsius,
		File:     path,
		Interval: 1,
		Outputs: []config.Output{
			{Kind: config.OutputTemperature, Name: "garden_temp", Group: "garden"},
		},
	}}

	s, err := NewSampler(inputs, sender, time.Second, func() time.Time { return now }, "")
	if err != nil {
		t.Fatal(err)
	}
	s.sampleAll()

	if len(sender.sent) != 1 {
		t.Fatalf("expected one published reading, got %d", len(sender.sent))
	}
	if sender.sent[0].series != "garden_temp" {
		t.Fatalf("expected series name garden_temp, got %s", sender.sent[0].series)
	}
}

func TestSamplerRespectsPerSensorInterval(t *testing.T) {
	path := writeFile(t, "20000\n")
	sender := &fakeSender{}
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := now

	inputs := []config.Input{{
		Station:  1,
		Type:     config.ReaderMDegCelsius,
		File:     path,
		Interval: 60,
		Outputs:  []config.Output{{Kind: config.OutputTemperature, Name: "garden_temp", Group: "garden"}},
	}}

	s, err := NewSampler(inputs, sender, time.Second, func() time.Time { return clock }, "")
	if err != nil {
		t.Fatal(err)
	}

	s.sampleAll()
	clock = clock.Add(5 * time.Second)
	s.sampleAll() // still within the 60s interval, should not re-read

	if len(sender.sent) != 1 {
		t.Fatalf("expected the sensor's own interval to suppress the second sample, got %d reads", len(sender.sent))
	}
}
