// README: Shared identifier type used by every module.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an opaque identifier (ride id, driver id, passenger id).
type ID string

func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts a JSON string or a JSON number; upstream ride
// events carry numeric ride and event ids.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("types.ID: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("types.ID: %w", err)
	}
	*id = ID(n.String())
	return nil
}
