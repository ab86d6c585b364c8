// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package station

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaloix/home-sensor/internal/config"
	"github.com/kaloix/home-sensor/pkg/log"
)

// Sender is the narrow interface Sampler needs from a BufferedSender.
type Sender interface {
	Send(series string, payload json.RawMessage) error
}

// sensor pairs a Reader with the series it feeds and its own rate gate, so
// one slow sensor on a shared polling loop never starves the others --
// each is only actually read once its own interval has elapsed.
type sensor struct {
	reader   Reader
	input    config.Input
	nextRead time.Time
}

// Sampler runs the agent's periodic sampling loop: once per tick it visits
// every configured sensor whose own interval has elapsed, reads it, and
// hands the result to a Sender. A read failure is logged and skipped --
// it never stops the loop or the other sensors.
type Sampler struct {
	sensors []*sensor
	sender  Sender
	clock   ClockFunc
	tick    time.Duration
	token   string
}

// ClockFunc abstracts time.Now so tests can drive the sampler
// deterministically.
type ClockFunc func() time.Time

// NewSampler builds a Sampler from a station's matching Inputs, each
// output of an Input becomes one fed series. token, if non-empty, is
// embedded as the legacy "_token" field in every published payload.
func NewSampler(inputs []config.Input, sender Sender, tick time.Duration, clock ClockFunc, token string) (*Sampler, error) {
	if clock == nil {
		clock = time.Now
	}
	if tick <= 0 {
		tick = 10 * time.Second
	}

	sensors := make([]*sensor, 0, len(inputs))
	for _, in := range inputs {
		reader, err := NewReader(in.Type, in.File)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, &sensor{reader: reader, input: in})
	}

	return &Sampler{sensors: sensors, sender: sender, clock: clock, tick: tick, token: token}, nil
}

// Run blocks, sampling every sensor once per tick, until stop is closed.
func (s *Sampler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sampleAll()
		}
	}
}

func (s *Sampler) sampleAll() {
	now := s.clock()
	for _, sen := range s.sensors {
		if now.Before(sen.nextRead) {
			continue
		}
		sen.nextRead = now.Add(time.Duration(sen.input.Interval) * time.Second)

		start := time.Now()
		value, err := sen.reader.Read()
		if err != nil {
			log.Errorf("station: read %s: %v", sen.input.File, err)
			continue
		}
		log.Infof("station: %s read in %s", sen.input.File, time.Since(start))

		for _, out := range sen.input.Outputs {
			if err := s.publish(out, now, value); err != nil {
				log.Errorf("station: publish %s: %v", out.Name, err)
			}
		}
	}
}

func (s *Sampler) publish(out config.Output, ts time.Time, raw float64) error {
	var valueJSON json.RawMessage
	switch out.Kind {
	case config.OutputTemperature:
		b, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		valueJSON = b
	case config.OutputSwitch:
		b, err := json.Marshal(raw != 0)
		if err != nil {
			return err
		}
		valueJSON = b
	default:
		return fmt.Errorf("unknown output kind %q", out.Kind)
	}

	payload := struct {
		Group     string          `json:"group"`
		Name      string          `json:"name"`
		Timestamp int64           `json:"timestamp"`
		Value     json.RawMessage `json:"value"`
		Token     string          `json:"_token,omitempty"`
	}{
		Group:     out.Group,
		Name:      out.Name,
		Timestamp: ts.Unix(),
		Value:     valueJSON,
		Token:     s.token,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.sender.Send(out.Name, body)
}
