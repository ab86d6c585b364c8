// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// defaults mirrors the reference implementation's policy of module-level
// constants with sensible fallbacks for everything the operator doesn't
// override.
var defaults = AggregatorConfig{
	ListenAddr:             ":64918",
	Workers:                8,
	DataDir:                "./data",
	RecordDays:             7,
	SummaryDays:            365,
	AllowedDowntime:        1800,
	Timezone:               "Europe/Berlin",
	SwitchDowntimeBehavior: "off",
}

// LoadSensorDescriptor reads and validates the shared device inventory
// document.
func LoadSensorDescriptor(path string) (SensorDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SensorDescriptor{}, err
	}
	if err := Validate(SensorDescriptorSchema, raw); err != nil {
		return SensorDescriptor{}, err
	}

	var d SensorDescriptor
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return SensorDescriptor{}, fmt.Errorf("config: decode sensor descriptor: %w", err)
	}
	return d, nil
}

// LoadAggregatorConfig reads and validates the aggregator's operational
// config, filling in any field the document omits from defaults.
func LoadAggregatorConfig(path string) (AggregatorConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AggregatorConfig{}, err
	}
	if err := Validate(AggregatorConfigSchema, raw); err != nil {
		return AggregatorConfig{}, err
	}

	cfg := defaults
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return AggregatorConfig{}, fmt.Errorf("config: decode aggregator config: %w", err)
	}
	return cfg, nil
}

// LoadStationConfig reads and validates a station agent's operational
// config.
func LoadStationConfig(path string) (StationConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StationConfig{}, err
	}
	if err := Validate(StationConfigSchema, raw); err != nil {
		return StationConfig{}, err
	}

	var cfg StationConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return StationConfig{}, fmt.Errorf("config: decode station config: %w", err)
	}
	return cfg, nil
}
