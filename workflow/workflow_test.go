package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"pgregory.net/rapid"
)

func newWorkflowWithTasks(t require.TestingT, n int) (*Workflow, []*Task) {
	w := New("wf", "desc", nil)
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = NewTask(TaskSpec{ID: fmt.Sprintf("t%d", i), Type: TaskExecution})
		require.NoError(t, w.AddTask(tasks[i]))
	}
	return w, tasks
}

func TestWorkflow_Lifecycle(t *testing.T) {
	w, tasks := newWorkflowWithTasks(t, 2)
	assert.Equal(t, StatusPlanning, w.Status())
	assert.Equal(t, 2, w.Performance().TotalTasks)

	require.NoError(t, w.Begin())
	assert.ErrorIs(t, w.AddTask(NewTask(TaskSpec{Type: TaskExecution})), ErrInvalidTransition)

	require.NoError(t, tasks[0].Start())
	require.NoError(t, tasks[0].Complete("ok"))
	w.RecordOutcome(tasks[0])
	require.NoError(t, tasks[1].Fail("no suitable agent"))
	w.RecordOutcome(tasks[1])

	assert.Equal(t, StatusCompleted, w.Finalize(PartialSuccess))
	perf := w.Performance()
	assert.Equal(t, 1, perf.CompletedTasks)
	assert.Equal(t, 1, perf.FailedTasks)
	assert.Equal(t, perf.TotalTasks, perf.CompletedTasks+perf.FailedTasks)
}

func TestWorkflow_AllOrNothing(t *testing.T) {
	w, tasks := newWorkflowWithTasks(t, 1)
	require.NoError(t, w.Begin())
	require.NoError(t, tasks[0].Fail("boom"))
	w.RecordOutcome(tasks[0])
	assert.Equal(t, StatusFailed, w.Finalize(AllOrNothing))
}

func TestWorkflow_RecordOutcomeIdempotent(t *testing.T) {
	w, tasks := newWorkflowWithTasks(t, 1)
	require.NoError(t, w.Begin())
	require.NoError(t, tasks[0].Fail("boom"))
	w.RecordOutcome(tasks[0])
	w.RecordOutcome(tasks[0])
	assert.Equal(t, 1, w.Performance().FailedTasks)
}

func TestWorkflow_InvariantViolations(t *testing.T) {
	t.Run("record non-terminal task", func(t *testing.T) {
		w, tasks := newWorkflowWithTasks(t, 1)
		assertInvariantPanic(t, func() { w.RecordOutcome(tasks[0]) })
	})

	t.Run("finalize with pending tasks", func(t *testing.T) {
		w, _ := newWorkflowWithTasks(t, 1)
		require.NoError(t, w.Begin())
		assertInvariantPanic(t, func() { w.Finalize(PartialSuccess) })
	})

	t.Run("finalize from planning", func(t *testing.T) {
		w, _ := newWorkflowWithTasks(t, 0)
		assertInvariantPanic(t, func() { w.Finalize(PartialSuccess) })
	})
}

func TestWorkflow_Pause(t *testing.T) {
	w, _ := newWorkflowWithTasks(t, 2)
	assert.ErrorIs(t, w.Pause(), ErrInvalidTransition)
	require.NoError(t, w.Begin())
	require.NoError(t, w.Pause())
	assert.Equal(t, StatusPaused, w.Status())
	assert.False(t, w.Status().IsTerminal())
}

func TestWorkflow_SnapshotIsDetached(t *testing.T) {
	agents := []types.AgentDescriptor{{ID: "a1", Capabilities: []types.Capability{types.CapabilityExecution}}}
	w := New("wf", "desc", agents)
	agents[0].Capabilities[0] = types.CapabilityMonitoring

	snap := w.Snapshot()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, types.CapabilityExecution, snap.Agents[0].Capabilities[0])

	snap.Agents[0].Capabilities[0] = types.CapabilityAnalysis
	assert.Equal(t, types.CapabilityExecution, w.Agents()[0].Capabilities[0])
}

func TestWorkflow_TaskByID(t *testing.T) {
	w, _ := newWorkflowWithTasks(t, 3)
	task, ok := w.TaskByID("t1")
	require.True(t, ok)
	assert.Equal(t, "t1", task.ID)
	_, ok = w.TaskByID("missing")
	assert.False(t, ok)
}

func TestParseCompletionPolicy(t *testing.T) {
	p, err := ParseCompletionPolicy("all_or_nothing")
	require.NoError(t, err)
	assert.Equal(t, AllOrNothing, p)
	p, err = ParseCompletionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PartialSuccess, p)
	_, err = ParseCompletionPolicy("strict")
	assert.Error(t, err)
}

// TestProperty_Workflow_CountersBalanceAtTerminal 任意完成/失败组合下，
// 终态时 completed + failed == total，且平均耗时只统计成功任务。
func TestProperty_Workflow_CountersBalanceAtTerminal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		outcomes := rapid.SliceOfN(rapid.Bool(), 0, 30).Draw(rt, "outcomes")
		w, tasks := newWorkflowWithTasks(rt, len(outcomes))
		require.NoError(rt, w.Begin())

		wantCompleted := 0
		for i, ok := range outcomes {
			if ok {
				require.NoError(rt, tasks[i].Start())
				require.NoError(rt, tasks[i].Complete(i))
				wantCompleted++
			} else {
				require.NoError(rt, tasks[i].Fail("x"))
			}
			w.RecordOutcome(tasks[i])
			perf := w.Performance()
			assert.LessOrEqual(rt, perf.CompletedTasks+perf.FailedTasks, perf.TotalTasks)
		}

		w.Finalize(PartialSuccess)
		perf := w.Performance()
		assert.Equal(rt, perf.TotalTasks, perf.CompletedTasks+perf.FailedTasks)
		assert.Equal(rt, wantCompleted, perf.CompletedTasks)
		if wantCompleted == 0 {
			assert.Zero(rt, perf.AverageExecutionTimeMs)
		}
	})
}

func assertInvariantPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected invariant panic")
		err, ok := r.(*types.Error)
		require.True(t, ok, "panic value %T", r)
		assert.Equal(t, types.ErrInvariantViolation, err.Code)
	}()
	fn()
}
