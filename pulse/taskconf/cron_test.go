package taskconf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-task/errors"
)

func TestValidCrontab(t *testing.T) {
	valid := []string{"0 2 * * *", "*/30 * * * *", " 0 2,14 * * 1-5 ", "15 3 1 */2 *"}
	for _, expr := range valid {
		assert.True(t, ValidCrontab(expr), expr)
	}

	invalid := []string{"", "   ", "1 2", "0 0 2 * * *", "@daily", "61 * * * *", "* * * * mon-xyz"}
	for _, expr := range invalid {
		assert.False(t, ValidCrontab(expr), expr)
	}
}

func TestParseCrontab_Errors(t *testing.T) {
	_, err := ParseCrontab("1 2")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfigurationError(err))
	assert.NotEmpty(t, errors.GetAllHints(err))

	_, err = ParseCrontab("99 * * * *")
	assert.True(t, errors.IsInvalidConfigurationError(err))
}

func TestSchedule(t *testing.T) {
	from := time.Date(2026, 3, 10, 1, 59, 0, 0, time.UTC)

	cronSched := Schedule{Cron: "0 2 * * *"}
	assert.True(t, cronSched.IsCron())
	assert.Equal(t, "cron 0 2 * * *", cronSched.String())
	next, err := cronSched.Next(from, 2)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC),
	}, next)

	every := Schedule{Interval: time.Hour}
	assert.False(t, every.IsCron())
	assert.Equal(t, float64(3600), every.IntervalSeconds())
	assert.Equal(t, "every 1h0m0s", every.String())
	next, err = every.Next(from, 1)
	require.NoError(t, err)
	assert.Equal(t, from.Add(time.Hour), next[0])

	_, err = Schedule{}.Spec()
	assert.True(t, errors.IsInvalidConfigurationError(err))
}

func TestScheduleFor(t *testing.T) {
	assert.Equal(t, Schedule{Cron: "0 2 * * *"}, scheduleFor(" 0 2 * * * ", time.Hour))
	assert.Equal(t, Schedule{Interval: 24 * time.Hour}, scheduleFor("1 2", 24*time.Hour))
}
