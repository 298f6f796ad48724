package trigger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestCronNextAfter(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		timezone   string
		after      string
		want       string
	}{
		{
			name:       "daily 2am from just before",
			expression: "0 2 * * *",
			after:      "2025-06-23T01:59:59Z",
			want:       "2025-06-23T02:00:00Z",
		},
		{
			name:       "daily 2am from exactly 2am is strictly after",
			expression: "0 2 * * *",
			after:      "2025-06-23T02:00:00Z",
			want:       "2025-06-24T02:00:00Z",
		},
		{
			name:       "every 30 minutes",
			expression: "*/30 * * * *",
			after:      "2025-06-23T10:05:00Z",
			want:       "2025-06-23T10:30:00Z",
		},
		{
			name:       "weekly sunday 1am by name",
			expression: "0 1 * * sun",
			after:      "2025-06-23T00:00:00Z", // a Monday
			want:       "2025-06-29T01:00:00Z",
		},
		{
			name:       "weekly sunday by number",
			expression: "0 1 * * 0",
			after:      "2025-06-23T00:00:00Z",
			want:       "2025-06-29T01:00:00Z",
		},
		{
			name:       "range with step",
			expression: "0 9-17/4 * * *",
			after:      "2025-06-23T10:00:00Z",
			want:       "2025-06-23T13:00:00Z",
		},
		{
			name:       "comma list of hours",
			expression: "0 2,14 * * *",
			after:      "2025-06-23T02:00:01Z",
			want:       "2025-06-23T14:00:00Z",
		},
		{
			name:       "month name",
			expression: "0 0 1 jul *",
			after:      "2025-06-23T00:00:00Z",
			want:       "2025-07-01T00:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := trigger.NewCron(tt.expression, tt.timezone)
			require.NoError(t, err)

			next, ok := tr.NextAfter(mustTime(t, tt.after))
			require.True(t, ok)
			require.Equal(t, mustTime(t, tt.want), next.UTC())
		})
	}
}

func TestCronTimezone(t *testing.T) {
	tr, err := trigger.NewCron("0 2 * * *", "America/New_York")
	require.NoError(t, err)

	// 02:00 America/New_York on 2025-06-23 is 06:00 UTC (EDT).
	next, ok := tr.NextAfter(mustTime(t, "2025-06-23T00:00:00Z"))
	require.True(t, ok)
	require.Equal(t, mustTime(t, "2025-06-23T06:00:00Z"), next.UTC())
}

func TestCronInvalid(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		timezone   string
	}{
		{name: "empty", expression: ""},
		{name: "too few fields", expression: "0 2 *"},
		{name: "bad minute", expression: "61 2 * * *"},
		{name: "garbage", expression: "not a cron"},
		{name: "unknown timezone", expression: "0 2 * * *", timezone: "Mars/Olympus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := trigger.NewCron(tt.expression, tt.timezone)
			require.Error(t, err)
			require.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestCronMonotonic(t *testing.T) {
	tr, err := trigger.NewCron("*/5 * * * *", "")
	require.NoError(t, err)

	at := mustTime(t, "2025-06-23T00:00:00Z")
	prev, ok := tr.NextAfter(at)
	require.True(t, ok)
	for i := 0; i < 50; i++ {
		next, nextOK := tr.NextAfter(prev)
		require.True(t, nextOK)
		require.True(t, next.After(prev), "next %s not after %s", next, prev)
		prev = next
	}
}

func TestIntervalNextAfter(t *testing.T) {
	anchor := mustTime(t, "2025-06-23T00:00:00Z")
	tr, err := trigger.NewInterval(60*time.Second, anchor)
	require.NoError(t, err)

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{name: "at anchor fires one period later", after: anchor, want: anchor.Add(60 * time.Second)},
		{name: "mid period rounds up", after: anchor.Add(30 * time.Second), want: anchor.Add(60 * time.Second)},
		{name: "on boundary is strictly after", after: anchor.Add(60 * time.Second), want: anchor.Add(120 * time.Second)},
		{name: "before anchor fires at anchor", after: anchor.Add(-time.Hour), want: anchor},
		{name: "far ahead stays on grid", after: anchor.Add(299 * time.Second), want: anchor.Add(300 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := tr.NextAfter(tt.after)
			require.True(t, ok)
			require.Equal(t, tt.want, next)
		})
	}
}

func TestIntervalInvalid(t *testing.T) {
	anchor := time.Now()
	_, err := trigger.NewInterval(0, anchor)
	require.True(t, apperrors.IsValidation(err))

	_, err = trigger.NewInterval(-time.Second, anchor)
	require.True(t, apperrors.IsValidation(err))

	_, err = trigger.NewInterval(time.Second, time.Time{})
	require.True(t, apperrors.IsValidation(err))
}

func TestDateNextAfter(t *testing.T) {
	runDate := mustTime(t, "2025-06-23T12:00:00Z")
	tr := trigger.NewDate(runDate)

	next, ok := tr.NextAfter(runDate.Add(-time.Second))
	require.True(t, ok)
	require.Equal(t, runDate, next)

	// At or past the run date the trigger is exhausted.
	_, ok = tr.NextAfter(runDate)
	require.False(t, ok)
	_, ok = tr.NextAfter(runDate.Add(time.Hour))
	require.False(t, ok)
}

func TestSpecRoundTrip(t *testing.T) {
	anchor := mustTime(t, "2025-06-23T00:00:00Z")
	runDate := mustTime(t, "2025-12-01T09:30:00Z")

	cronTrigger, err := trigger.NewCron("30 4 * * mon", "Europe/Berlin")
	require.NoError(t, err)
	intervalTrigger, err := trigger.NewInterval(90*time.Second, anchor)
	require.NoError(t, err)
	dateTrigger := trigger.NewDate(runDate)

	for _, tr := range []trigger.Trigger{cronTrigger, intervalTrigger, dateTrigger} {
		t.Run(string(tr.Kind()), func(t *testing.T) {
			rebuilt, rebuildErr := trigger.FromSpec(tr.Spec())
			require.NoError(t, rebuildErr)
			require.Equal(t, tr.Kind(), rebuilt.Kind())
			require.Equal(t, tr.Spec(), rebuilt.Spec())
			require.Equal(t, tr.String(), rebuilt.String())

			probe := mustTime(t, "2025-06-24T00:00:00Z")
			wantNext, wantOK := tr.NextAfter(probe)
			gotNext, gotOK := rebuilt.NextAfter(probe)
			require.Equal(t, wantOK, gotOK)
			require.Equal(t, wantNext, gotNext)
		})
	}
}

func TestFromSpecInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec trigger.Spec
	}{
		{name: "unknown kind", spec: trigger.Spec{Kind: "weekly"}},
		{name: "cron without expression", spec: trigger.Spec{Kind: trigger.KindCron}},
		{name: "interval without anchor", spec: trigger.Spec{Kind: trigger.KindInterval, PeriodSeconds: 60}},
		{name: "date without run date", spec: trigger.Spec{Kind: trigger.KindDate}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := trigger.FromSpec(tt.spec)
			require.Error(t, err)
			require.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestKindUnmarshalText(t *testing.T) {
	var k trigger.Kind
	require.NoError(t, k.UnmarshalText([]byte("interval")))
	require.Equal(t, trigger.KindInterval, k)
	require.Error(t, k.UnmarshalText([]byte("hourly")))
}
