// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind selects which embedded JSON schema a document is validated
// against.
type Kind int

const (
	SensorDescriptorSchema Kind = iota + 1
	AggregatorConfigSchema
	StationConfigSchema
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchemaFile(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedfs"] = loadSchemaFile
}

func compile(k Kind) (*jsonschema.Schema, error) {
	switch k {
	case SensorDescriptorSchema:
		return jsonschema.Compile("embedfs://schemas/sensor-descriptor.schema.json")
	case AggregatorConfigSchema:
		return jsonschema.Compile("embedfs://schemas/aggregator-config.schema.json")
	case StationConfigSchema:
		return jsonschema.Compile("embedfs://schemas/station-config.schema.json")
	default:
		return nil, fmt.Errorf("config: unknown schema kind %d", k)
	}
}

// Validate fails closed: any document that does not parse as JSON, or
// does not satisfy the schema for k, is rejected before it is ever
// unmarshaled into a typed struct.
func Validate(k Kind, raw []byte) error {
	schema, err := compile(k)
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: invalid json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("config: schema validation failed: %w", err)
	}
	return nil
}
