package agent

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTracker_Defaults(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	perf := tr.Snapshot()
	assert.Equal(t, 1.0, perf.SuccessRate)
	assert.Zero(t, perf.TasksCompleted)
	assert.True(t, perf.LastActiveAt.IsZero())
}

func TestTracker_SingleSuccessFromHalf(t *testing.T) {
	tr := NewTracker(TrackerConfig{InitialSuccessRate: 0.5})
	tr.Record(true, 10*time.Millisecond)
	assert.InDelta(t, 0.55, tr.Snapshot().SuccessRate, 1e-12)
}

func TestTracker_FailureAndCounters(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(TrackerConfig{Now: clock.Now})

	tr.Record(false, 100*time.Millisecond)
	perf := tr.Snapshot()
	assert.InDelta(t, 0.9, perf.SuccessRate, 1e-12)
	assert.Equal(t, int64(1), perf.TasksCompleted)
	assert.Equal(t, clock.now, perf.LastActiveAt)
	assert.InDelta(t, 100, perf.AverageResponseTimeMs, 1e-9, "first sample seeds latency")

	clock.Advance(time.Minute)
	tr.Record(true, 200*time.Millisecond)
	perf = tr.Snapshot()
	assert.Equal(t, int64(2), perf.TasksCompleted)
	assert.InDelta(t, 110, perf.AverageResponseTimeMs, 1e-9)
	assert.Equal(t, clock.now, perf.LastActiveAt)
}

func TestTracker_OutcomesSince(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(TrackerConfig{Now: clock.Now, HistorySize: 3})

	for i := 0; i < 5; i++ {
		tr.Record(i%2 == 0, time.Duration(i)*time.Millisecond)
		clock.Advance(10 * time.Minute)
	}

	all := tr.OutcomesSince(time.Time{})
	require.Len(t, all, 3, "history is bounded")
	assert.Equal(t, 2*time.Millisecond, all[0].Duration, "oldest retained first")
	assert.Equal(t, 4*time.Millisecond, all[2].Duration)

	recent := tr.OutcomesSince(clock.now.Add(-25 * time.Minute))
	require.Len(t, recent, 2)
	assert.Equal(t, 3*time.Millisecond, recent[0].Duration)
}

func TestSuccessRatio(t *testing.T) {
	assert.Equal(t, 1.0, SuccessRatio(nil))
	assert.Equal(t, 0.5, SuccessRatio([]Outcome{{Success: true}, {Success: false}}))
}

// TestProperty_Tracker_MatchesClosedFormEMA 任意结果序列下 successRate 等于 α=0.1 的闭式 EMA：
// r_n = (1-α)^n·r_0 + Σ α(1-α)^(n-i)·o_i
func TestProperty_Tracker_MatchesClosedFormEMA(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := rapid.Float64Range(0.01, 1).Draw(rt, "initial")
		outcomes := rapid.SliceOfN(rapid.Bool(), 0, 60).Draw(rt, "outcomes")

		tr := NewTracker(TrackerConfig{InitialSuccessRate: initial})
		for _, o := range outcomes {
			tr.Record(o, time.Millisecond)
		}

		const alpha = 0.1
		n := len(outcomes)
		want := math.Pow(1-alpha, float64(n)) * initial
		for i, o := range outcomes {
			if o {
				want += alpha * math.Pow(1-alpha, float64(n-1-i))
			}
		}

		perf := tr.Snapshot()
		assert.InDelta(rt, want, perf.SuccessRate, 1e-9)
		assert.GreaterOrEqual(rt, perf.SuccessRate, 0.0)
		assert.LessOrEqual(rt, perf.SuccessRate, 1.0)
		assert.Equal(rt, int64(n), perf.TasksCompleted)
	})
}
