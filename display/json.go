package display

import (
	"encoding/json"
	"os"
)

// CompactEnv selects single-line JSON, for piping into line-oriented tools.
const CompactEnv = "QNTX_TASK_JSON_COMPACT"

// MarshalJSON marshals JSON compactly when CompactEnv is set, indented otherwise
func MarshalJSON(v interface{}) ([]byte, error) {
	if os.Getenv(CompactEnv) != "" {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
