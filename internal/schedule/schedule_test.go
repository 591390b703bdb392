package schedule

import (
	"testing"
	"time"

	"github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantKind  Kind
		wantEvery time.Duration
		wantErr   bool
	}{
		{name: "rate hour", raw: "rate(1 hour)", wantKind: KindRate, wantEvery: time.Hour},
		{name: "rate minutes", raw: "rate(15 minutes)", wantKind: KindRate, wantEvery: 15 * time.Minute},
		{name: "rate days", raw: "rate(7 days)", wantKind: KindRate, wantEvery: 7 * 24 * time.Hour},
		{name: "rate plural for one", raw: "rate(1 hours)", wantErr: true},
		{name: "rate singular for many", raw: "rate(5 minute)", wantErr: true},
		{name: "rate zero", raw: "rate(0 minutes)", wantErr: true},
		{name: "rate unknown unit", raw: "rate(2 weeks)", wantErr: true},
		{name: "cron daily", raw: "cron(0 12 * * ? *)", wantKind: KindCron},
		{name: "cron weekdays", raw: "cron(15 10 ? * MON-FRI *)", wantKind: KindCron},
		{name: "cron numeric dow", raw: "cron(0 8 ? * 2-6 *)", wantKind: KindCron},
		{name: "cron last day", raw: "cron(0 0 L * ? *)", wantKind: KindCron},
		{name: "cron five fields", raw: "cron(0 12 * * ?)", wantErr: true},
		{name: "cron both days", raw: "cron(0 12 * * * *)", wantErr: true},
		{name: "cron no question mark", raw: "cron(0 12 1 * MON *)", wantErr: true},
		{name: "cron bad minute", raw: "cron(61 12 * * ? *)", wantErr: true},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "plain crontab", raw: "*/5 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidSchedule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantEvery, got.Every)
			assert.Equal(t, tt.raw, got.String())
		})
	}
}

func TestShiftWeekdays(t *testing.T) {
	tests := map[string]string{
		"2":       "1",
		"2-6":     "1-5",
		"1,7":     "0,6",
		"2/2":     "1/2",
		"2-6/3":   "1-5/3",
		"1,3-7/2": "0,2-6/2",
		"*":       "*",
		"MON-FRI": "MON-FRI",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, shiftWeekdays(in))
		})
	}
}

func TestExpression_Next(t *testing.T) {
	from := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

	t.Run("rate", func(t *testing.T) {
		expr, err := Parse("rate(1 hour)")
		require.NoError(t, err)
		assert.Equal(t, []time.Time{
			from.Add(time.Hour),
			from.Add(2 * time.Hour),
		}, expr.Next(from, 2))
	})

	t.Run("cron daily", func(t *testing.T) {
		expr, err := Parse("cron(0 12 * * ? *)")
		require.NoError(t, err)
		assert.Equal(t, []time.Time{
			time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		}, expr.Next(from, 2))
	})

	t.Run("cron day of week numbering", func(t *testing.T) {
		// 2026-10-15 is a Thursday; EventBridge day 2 is Monday.
		expr, err := Parse("cron(0 8 ? * 2 *)")
		require.NoError(t, err)
		assert.Equal(t, []time.Time{
			time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		}, expr.Next(from, 1))
	})

	t.Run("cron day of week step", func(t *testing.T) {
		// every other day from Monday: Monday, Wednesday, Friday
		expr, err := Parse("cron(0 12 ? * 2/2 *)")
		require.NoError(t, err)
		assert.Equal(t, []time.Time{
			time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC),
		}, expr.Next(from, 3))
	})

	t.Run("cron extensions", func(t *testing.T) {
		expr, err := Parse("cron(0 0 L * ? *)")
		require.NoError(t, err)
		assert.Nil(t, expr.Next(from, 3))
	})
}
