package commands

import (
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-task/errors"
)

func TestParseValue(t *testing.T) {
	assert.Equal(t, 30, parseValue("30"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, 1.5, parseValue("1.5"))
	assert.Equal(t, "0 2 * * *", parseValue("0 2 * * *"))
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, parseValue(`{"a": 1}`))
}

func TestOptionalFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().Int("days", 0, "")
	cmd.Flags().Bool("only", true, "")
	cmd.Flags().String("who", "", "")

	assert.Nil(t, optionalInt(cmd, "days"))
	assert.Nil(t, optionalBool(cmd, "only"))
	assert.Nil(t, optionalString(cmd, "who"))

	require.NoError(t, cmd.Flags().Set("days", "0"))
	require.NoError(t, cmd.Flags().Set("only", "false"))
	require.NoError(t, cmd.Flags().Set("who", "alice"))

	require.NotNil(t, optionalInt(cmd, "days"))
	assert.Equal(t, 0, *optionalInt(cmd, "days"), "an explicit zero is still passed through")
	assert.False(t, *optionalBool(cmd, "only"))
	assert.Equal(t, "alice", *optionalString(cmd, "who"))
}

func TestJSONFlags(t *testing.T) {
	m, err := jsonObject(`{"queue": "default"}`, "metadata")
	require.NoError(t, err)
	assert.Equal(t, "default", m["queue"])

	m, err = jsonObject("", "metadata")
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = jsonObject(`[1, 2]`, "metadata")
	assert.True(t, errors.IsInvalidRequestError(err))

	raw, err := jsonRaw(`[1, "two"]`, "args")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`[1, "two"]`), raw)

	_, err = jsonRaw(`[1,`, "args")
	assert.True(t, errors.IsInvalidRequestError(err))
}
