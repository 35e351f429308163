package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryFiresRepeatedly(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired atomic.Int32
	s.Every(context.Background(), "tick", 5*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestEveryReplacesSameName(t *testing.T) {
	s := New()
	defer s.Stop()

	var old, fresh atomic.Int32
	s.Every(context.Background(), "job", 5*time.Millisecond, func() { old.Add(1) })
	s.Every(context.Background(), "job", 5*time.Millisecond, func() { fresh.Add(1) })

	require.Eventually(t, func() bool { return fresh.Load() >= 2 }, time.Second, time.Millisecond)
	before := old.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, old.Load(), "replaced job must stop firing")
	assert.Equal(t, []string{"job"}, s.Names())
}

func TestCancelStopsOneJob(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired atomic.Int32
	s.Every(context.Background(), "doomed", 5*time.Millisecond, func() { fired.Add(1) })
	s.Cancel("doomed")

	count := fired.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, fired.Load(), count+1, "at most one in-flight fire after cancel")
	assert.Empty(t, s.Names())
}

func TestStopCancelsEverything(t *testing.T) {
	s := New()
	var fired atomic.Int32
	s.Every(context.Background(), "a", 5*time.Millisecond, func() { fired.Add(1) })
	s.Every(context.Background(), "b", 5*time.Millisecond, func() { fired.Add(1) })

	s.Stop()
	count := fired.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, fired.Load())
	assert.Empty(t, s.Names())
}

func TestEveryIgnoresBadJobs(t *testing.T) {
	s := New()
	defer s.Stop()
	s.Every(context.Background(), "zero", 0, func() {})
	s.Every(context.Background(), "nil-task", time.Second, nil)
	assert.Empty(t, s.Names())
}

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"4H":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "60", "m", "0m", "-1h", "15x", "1.5h"} {
		_, ok := ParseIntervalDuration(in)
		assert.False(t, ok, in)
	}
}
