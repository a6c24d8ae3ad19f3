package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" daily ")
	require.NoError(t, err)
	assert.Equal(t, Daily, p)
	assert.Equal(t, "@daily", p.Spec())

	_, err = ParsePeriod("YEARLY")
	assert.Error(t, err)
}

func TestPeriodSpecs(t *testing.T) {
	assert.Equal(t, "@hourly", Hourly.Spec())
	assert.Equal(t, "@weekly", Weekly.Spec())
	assert.Equal(t, "@monthly", Monthly.Spec())
	assert.Empty(t, Period("X").Spec())
}

func TestPeriodWindow(t *testing.T) {
	// Friday.
	now := time.Date(2022, 10, 7, 14, 0, 2, 0, time.UTC)

	cases := []struct {
		period     Period
		start, end time.Time
	}{
		{Hourly, time.Date(2022, 10, 7, 13, 0, 0, 0, time.UTC), time.Date(2022, 10, 7, 14, 0, 0, 0, time.UTC)},
		{Daily, time.Date(2022, 10, 6, 0, 0, 0, 0, time.UTC), time.Date(2022, 10, 7, 0, 0, 0, 0, time.UTC)},
		{Weekly, time.Date(2022, 9, 25, 0, 0, 0, 0, time.UTC), time.Date(2022, 10, 2, 0, 0, 0, 0, time.UTC)},
		{Monthly, time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2022, 10, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(string(tc.period), func(t *testing.T) {
			start, end := tc.period.Window(now)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}
}

func TestWindowRespectsLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2022, 10, 7, 0, 0, 1, 0, loc)
	start, end := Daily.Window(now)
	assert.Equal(t, time.Date(2022, 10, 6, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2022, 10, 7, 0, 0, 0, 0, loc), end)
}
