// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the two static JSON documents that
// drive both sides of the pipeline: the sensor descriptor (shared by every
// station agent and the aggregator, since the aggregator needs to know
// each series' kind and thresholds independently of any station) and the
// aggregator's own operational config (SMTP, listeners, storage paths).
package config

// ReaderType identifies which hardware reader plug-in a station input uses.
type ReaderType string

const (
	ReaderDS18B20     ReaderType = "ds18b20"
	ReaderMDegCelsius ReaderType = "mdeg_celsius"
	ReaderThermosolar ReaderType = "thermosolar"
)

// Input describes one physical sensor a station agent samples.
type Input struct {
	Station  int        `json:"station"`
	Type     ReaderType `json:"type"`
	File     string     `json:"file"`
	Interval int        `json:"interval"` // seconds

	Outputs []Output `json:"outputs"`
}

// Output describes one named series an Input's readings are published as.
// Kind selects temperature or switch; Low, High and ThresholdExpr apply
// only to temperature outputs.
type Output struct {
	Kind OutputKind `json:"kind"`

	Name       string `json:"name"`
	Group      string `json:"group"`
	FailNotify bool   `json:"fail_notify"`

	// Temperature-only.
	Low           float64 `json:"low,omitempty"`
	High          float64 `json:"high,omitempty"`
	ThresholdExpr string  `json:"threshold_expr,omitempty"`
}

type OutputKind string

const (
	OutputTemperature OutputKind = "temperature"
	OutputSwitch      OutputKind = "switch"
)

// SensorDescriptor is the static, fleet-wide device inventory: every
// station's inputs and the series each one feeds. Both the station agent
// (to know which Inputs match its own station id) and the aggregator (to
// construct its Series with the right kind/thresholds) load this same
// document.
type SensorDescriptor struct {
	Inputs []Input `json:"inputs"`
}

// ForStation returns the Inputs belonging to the given station id.
func (d SensorDescriptor) ForStation(station int) []Input {
	var out []Input
	for _, in := range d.Inputs {
		if in.Station == station {
			out = append(out, in)
		}
	}
	return out
}

// SMTPConfig carries the aggregator's mail-relay settings for the alert
// and crash-notification emails.
type SMTPConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	FromAddress  string `json:"from_address"`
	AdminAddress string `json:"admin_address"`
	UserAddress  string `json:"user_address"`
	EnableEmail  bool   `json:"enable_email"`
}

// TLSConfig carries the mutual-TLS material and the legacy JWT fallback.
type TLSConfig struct {
	ServerCert string `json:"server_cert"`
	ServerKey  string `json:"server_key"`
	ClientCA   string `json:"client_ca"`

	// JWTSecret, if non-empty, enables the legacy _token single-sided
	// auth mode alongside mutual TLS.
	JWTSecret string `json:"jwt_secret,omitempty"`
}

// StoreConfig points at the optional sqlite side-store used to checkpoint
// series state and alert cooldowns across restarts.
type StoreConfig struct {
	Path string `json:"path"`
}

// MetricsConfig controls the internal Prometheus registry's listener. It
// is unauthenticated and separate from the mTLS ingest port; it binds Addr
// as given, so it is loopback-only only when Addr is a loopback address.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// EventBusConfig controls the optional NATS fan-out of ingested records
// and fired alerts to external subscribers. It is best-effort: a
// publish failure is logged and never blocks ingestion.
type EventBusConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// AggregatorConfig is the aggregator process' full operational
// configuration: everything spec.md's config.ini covers plus the ambient
// concerns (storage, metrics, event bus) this implementation adds.
type AggregatorConfig struct {
	ListenAddr string `json:"listen_addr"`
	Workers    int    `json:"workers"`
	DataDir    string `json:"data_dir"`

	RecordDays      int    `json:"record_days"`
	SummaryDays     int    `json:"summary_days"`
	AllowedDowntime int    `json:"allowed_downtime_seconds"`
	Timezone        string `json:"timezone"`

	// SwitchDowntimeBehavior selects how a Switch series' uptime
	// summaries treat a gap longer than AllowedDowntime: "off" assumes
	// the switch went off during the outage, "last" assumes it held its
	// last known state. Default is "off".
	SwitchDowntimeBehavior string `json:"switch_assume_state_during_downtime"`

	TLS     TLSConfig      `json:"tls"`
	SMTP    SMTPConfig     `json:"smtp"`
	Store   StoreConfig    `json:"store"`
	Metrics MetricsConfig  `json:"metrics"`
	Bus     EventBusConfig `json:"event_bus"`
}

// StationConfig is the station agent process' operational configuration.
type StationConfig struct {
	Station    int    `json:"station"`
	BaseURL    string `json:"base_url"`
	OutboxPath string `json:"outbox_path"`
	Token      string `json:"token,omitempty"`

	// Treat4xxAsTransient opts back into the conservative
	// leave-in-outbox policy for 4xx ingest responses instead of the
	// default policy of consuming the entry as a permanent rejection.
	Treat4xxAsTransient bool `json:"treat_4xx_as_transient"`

	TLS     TLSConfig     `json:"tls"`
	Metrics MetricsConfig `json:"metrics"`
}
