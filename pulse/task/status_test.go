package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-task/errors"
)

func TestStatusGroups(t *testing.T) {
	for _, s := range AllStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.True(t, StatusSuccess.IsCompleted())
	assert.True(t, StatusRevoked.IsCompleted())
	assert.False(t, StatusRetry.IsCompleted())
	assert.True(t, StatusPending.IsRunning())
	assert.False(t, StatusRetry.IsRunning())
	assert.False(t, Status("DONE").Valid())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" success ")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, s)

	_, err = ParseStatus("done")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestMapExecutorStatus(t *testing.T) {
	assert.Equal(t, StatusRevoked, MapExecutorStatus("REVOKED"))
	assert.Equal(t, StatusPending, MapExecutorStatus("RECEIVED"))
	assert.Equal(t, StatusPending, MapExecutorStatus(""))
}

func TestExecutionDuration(t *testing.T) {
	start := base()
	now := start.Add(5 * time.Minute)

	_, ok := (&Execution{}).Duration(now)
	assert.False(t, ok)

	d, ok := (&Execution{StartedAt: &start}).Duration(now)
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, d)

	end := start.Add(time.Minute)
	d, ok = (&Execution{StartedAt: &start, FinishedAt: &end}).Duration(now)
	require.True(t, ok)
	assert.Equal(t, time.Minute, d)
}
