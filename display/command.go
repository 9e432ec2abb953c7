// Package display decides how CLI results are rendered.
package display

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/qntx-task/errors"
)

// OutputEnv forces JSON output when set to "json", for scripts that cannot
// pass flags through.
const OutputEnv = "QNTX_TASK_OUTPUT"

// ShouldOutputJSON determines if a command should output JSON based on flags and environment
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return os.Getenv(OutputEnv) == "json"
	}

	// An explicit --json=false wins over the environment
	if cmd.Flags().Changed("json") {
		v, _ := cmd.Flags().GetBool("json")
		return v
	}
	if v, err := cmd.Flags().GetBool("json"); err == nil && v {
		return true
	}
	return os.Getenv(OutputEnv) == "json"
}

// OutputJSON marshals and prints JSON using display.MarshalJSON
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(data))
	return nil
}
