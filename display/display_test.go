package display

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().Bool("json", false, "")
	return cmd
}

func TestShouldOutputJSON(t *testing.T) {
	t.Setenv(OutputEnv, "")
	cmd := newCmd()
	assert.False(t, ShouldOutputJSON(cmd))

	t.Setenv(OutputEnv, "json")
	assert.True(t, ShouldOutputJSON(cmd))
	assert.True(t, ShouldOutputJSON(nil))

	require.NoError(t, cmd.Flags().Set("json", "false"))
	assert.False(t, ShouldOutputJSON(cmd), "explicit flag wins")

	t.Setenv(OutputEnv, "")
	require.NoError(t, cmd.Flags().Set("json", "true"))
	assert.True(t, ShouldOutputJSON(cmd))
}

func TestMarshalJSON(t *testing.T) {
	v := map[string]int{"a": 1}

	t.Setenv(CompactEnv, "")
	data, err := MarshalJSON(v)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(data))

	t.Setenv(CompactEnv, "1")
	data, err = MarshalJSON(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}
