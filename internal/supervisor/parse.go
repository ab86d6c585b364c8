// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package supervisor

import (
	"encoding/json"
	"fmt"
)

func parseNumber(raw json.RawMessage, out *float64) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("value %s is not a number: %w", raw, err)
	}
	return nil
}

func parseBool(raw json.RawMessage, out *bool) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("value %s is not a boolean: %w", raw, err)
	}
	return nil
}
