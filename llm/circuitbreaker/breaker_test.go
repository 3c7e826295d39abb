package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toobutta/auterity-workflow-studio-sub004/testutil"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errFail = errors.New("fail")

func failing(context.Context) error { return errFail }
func succeeding(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// DefaultConfig / NewCircuitBreaker
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 1, cfg.HalfOpenMaxCalls)
}

func TestNewCircuitBreaker_CorrectsInvalidValues(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 0, Timeout: -1, HalfOpenMaxCalls: -1}, nil)
	b := cb.(*breaker)
	assert.Equal(t, 5, b.config.Threshold)
	assert.Equal(t, 30*time.Second, b.config.Timeout)
	assert.Equal(t, 60*time.Second, b.config.ResetTimeout)
	assert.Equal(t, 1, b.config.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

// ---------------------------------------------------------------------------
// Closed -> Open -> HalfOpen -> Closed
// ---------------------------------------------------------------------------

func TestBreaker_FiveFailuresOpenAndSixthFailsFast(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(&Config{Name: "openai", Now: clock.Now}, zap.NewNop())

	var calls atomic.Int32
	op := func(context.Context) error {
		calls.Add(1)
		return errFail
	}

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, cb.Call(context.Background(), op), errFail)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Call(context.Background(), op), errFail)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(59 * time.Second)
	err := cb.Call(context.Background(), op)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, types.IsErrorCode(err, types.ErrCircuitOpen))
	assert.Equal(t, int32(5), calls.Load(), "operation must not run while open")
}

func TestBreaker_RecoveryAllowsExactlyOneTrialCall(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(&Config{Threshold: 1, Now: clock.Now}, zap.NewNop())

	require.ErrorIs(t, cb.Call(context.Background(), failing), errFail)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(60 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.Equal(t, StateHalfOpen, cb.State())

	// A second caller during the trial is rejected without running.
	var ran atomic.Bool
	err := cb.Call(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, ErrTooManyCallsInHalfOpen)
	assert.False(t, ran.Load())

	close(release)
	require.NoError(t, <-done)

	snap := cb.Snapshot()
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestBreaker_HalfOpenFailureReopensAndRefreshesLastFailure(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(&Config{Threshold: 1, ResetTimeout: time.Minute, Now: clock.Now}, zap.NewNop())

	_ = cb.Call(context.Background(), failing)
	first := cb.Snapshot().LastFailureAt

	clock.Advance(time.Minute)
	assert.ErrorIs(t, cb.Call(context.Background(), failing), errFail)
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.Snapshot().LastFailureAt.After(first))

	// Recovery window restarts from the refreshed failure time.
	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, cb.Call(context.Background(), succeeding), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 3}, zap.NewNop())

	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), failing)
	require.NoError(t, cb.Call(context.Background(), succeeding))
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), failing)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1, Timeout: 20 * time.Millisecond}, zap.NewNop())

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, types.IsErrorCode(err, types.ErrTimeout))
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1}, zap.NewNop())

	err := cb.Call(testutil.CancelledContext(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1}, zap.NewNop())

	bad := types.NewError(types.ErrInvalidRequest, "bad prompt")
	err := cb.Call(context.Background(), func(context.Context) error { return bad })
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_ClientErrorDoesNotCloseHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(&Config{Threshold: 1, ResetTimeout: time.Minute, Now: clock.Now}, zap.NewNop())

	_ = cb.Call(context.Background(), failing)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Minute)
	bad := types.NewError(types.ErrAuthentication, "bad key")
	err := cb.Call(context.Background(), func(context.Context) error { return bad })
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 1, cb.Snapshot().FailureCount)

	// 试探名额已归还，下一次成功调用才恢复
	require.NoError(t, cb.Call(context.Background(), succeeding))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().FailureCount)
}

func TestBreaker_ClientErrorDoesNotResetFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 3}, zap.NewNop())
	bad := types.NewError(types.ErrInvalidRequest, "bad prompt")

	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), func(context.Context) error { return bad })
	assert.Equal(t, 2, cb.Snapshot().FailureCount)

	_ = cb.Call(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_PanicBecomesFailure(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 2}, zap.NewNop())
	boom := func(context.Context) error { panic("collaborator blew up") }

	err := cb.Call(context.Background(), boom)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCallPanicked)
	assert.Contains(t, err.Error(), "collaborator blew up")
	assert.Equal(t, 1, cb.Snapshot().FailureCount)

	_ = cb.Call(context.Background(), boom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_InvariantPanicPropagates(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1}, zap.NewNop())

	defer func() {
		r := recover()
		require.NotNil(t, r)
		e, ok := r.(*types.Error)
		require.True(t, ok)
		assert.Equal(t, types.ErrInvariantViolation, e.Code)
		assert.Equal(t, StateClosed, cb.State())
	}()
	_ = cb.Call(context.Background(), func(context.Context) error {
		types.Invariant("double assignment")
		return nil
	})
	t.Fatal("invariant violation was swallowed")
}

func TestBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1, ResetTimeout: time.Hour}, zap.NewNop())

	_ = cb.Call(context.Background(), failing)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(context.Background(), succeeding))
}

func TestBreaker_OnStateChangeOrder(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var got []string

	cb := NewCircuitBreaker(&Config{
		Name:      "anthropic",
		Threshold: 2,
		Now:       clock.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			got = append(got, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	}, zap.NewNop())

	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), failing)
	clock.Advance(time.Minute)
	_ = cb.Call(context.Background(), succeeding)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"anthropic:closed->open",
		"anthropic:open->half_open",
		"anthropic:half_open->closed",
	}, got)
}

func TestCallWithResultTyped(t *testing.T) {
	cb := NewCircuitBreaker(nil, zap.NewNop())

	v, err := CallWithResultTyped(cb, context.Background(), func(context.Context) (string, error) {
		return "plan", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "plan", v)

	_, err = CallWithResultTyped(cb, context.Background(), func(context.Context) (string, error) {
		return "", errFail
	})
	assert.ErrorIs(t, err, errFail)
}

func TestBreaker_ConcurrentSafety(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 100}, zap.NewNop())

	var wg sync.WaitGroup
	var successCount atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.Call(context.Background(), succeeding) == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, StateClosed, cb.State())
}

// Property: the breaker opens exactly when the number of consecutive failures
// reaches the threshold.
func TestProperty_OpensAtThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("consecutive failures below threshold keep the breaker closed", prop.ForAll(
		func(threshold, failures int) bool {
			cb := NewCircuitBreaker(&Config{Threshold: threshold, ResetTimeout: time.Hour}, zap.NewNop())
			for i := 0; i < failures; i++ {
				_ = cb.Call(context.Background(), failing)
			}
			if failures >= threshold {
				return cb.State() == StateOpen
			}
			return cb.State() == StateClosed && cb.Snapshot().FailureCount == failures
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 15),
	))

	properties.TestingRun(t)
}
