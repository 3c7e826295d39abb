package specialist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/workflow"
)

func executionTask(id, op string) *workflow.Task {
	ctx := map[string]any{}
	if op != "" {
		ctx[ContextOperation] = op
	}
	return workflow.NewTask(workflow.TaskSpec{ID: id, Type: workflow.TaskExecution, Context: ctx})
}

func newExecutor(t *testing.T, cfg ExecutorConfig, ops map[string]Operation) *ExecutorAgent {
	t.Helper()
	if cfg.Agent.ID == "" {
		cfg.Agent.ID = "executor-1"
	}
	a, err := NewExecutorAgent(cfg, ops, nil, nil)
	require.NoError(t, err)
	return a
}

func TestExecutorAgent_RunsNamedOperation(t *testing.T) {
	a := newExecutor(t, ExecutorConfig{}, map[string]Operation{
		"echo": OperationFunc(func(_ context.Context, task *workflow.Task) (any, error) {
			return task.ID, nil
		}),
	})

	task := executionTask("t1", "echo")
	require.True(t, a.AssignTask(context.Background(), task))
	res := task.Result().(ExecutionResult)
	assert.Equal(t, "echo", res.Operation)
	assert.Equal(t, "t1", res.Output)
	assert.Equal(t, []string{"echo"}, a.Operations())
}

func TestExecutorAgent_DefaultOperation(t *testing.T) {
	a := newExecutor(t, ExecutorConfig{DefaultOperation: "noop"}, nil)
	a.RegisterOperation("noop", OperationFunc(func(context.Context, *workflow.Task) (any, error) { return "ok", nil }))

	task := executionTask("t1", "")
	require.True(t, a.AssignTask(context.Background(), task))
	assert.Equal(t, "noop", task.Result().(ExecutionResult).Operation)
}

func TestExecutorAgent_UnknownOperation(t *testing.T) {
	a := newExecutor(t, ExecutorConfig{}, nil)
	task := executionTask("t1", "missing")
	assert.False(t, a.AssignTask(context.Background(), task))
	assert.Contains(t, task.Error(), "unknown operation")
	assert.Contains(t, task.Error(), "missing")
}

func TestExecutorAgent_OperationErrorAndTimeout(t *testing.T) {
	a := newExecutor(t, ExecutorConfig{Timeout: 20 * time.Millisecond}, map[string]Operation{
		"fail": OperationFunc(func(context.Context, *workflow.Task) (any, error) {
			return nil, errors.New("exit status 1")
		}),
		"slow": OperationFunc(func(ctx context.Context, _ *workflow.Task) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})

	task := executionTask("t1", "fail")
	assert.False(t, a.AssignTask(context.Background(), task))
	assert.Contains(t, task.Error(), "exit status 1")

	task = executionTask("t2", "slow")
	assert.False(t, a.AssignTask(context.Background(), task))
	assert.Contains(t, task.Error(), "operation slow")
}

func TestExecutorAgent_AverageDuration(t *testing.T) {
	a := newExecutor(t, ExecutorConfig{}, map[string]Operation{
		"sleep": OperationFunc(func(context.Context, *workflow.Task) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		}),
	})
	require.True(t, a.AssignTask(context.Background(), executionTask("t1", "sleep")))
	assert.GreaterOrEqual(t, a.AverageDuration(), 5*time.Millisecond)

	recent := []agent.Outcome{{Duration: 10 * time.Millisecond}, {Duration: 30 * time.Millisecond}}
	require.NoError(t, a.Optimize(context.Background(), recent))
	assert.Equal(t, 20*time.Millisecond, a.AverageDuration())
	require.NoError(t, a.Optimize(context.Background(), recent))
	assert.Equal(t, 20*time.Millisecond, a.AverageDuration())
}

func TestExecutorAgent_PanickingOperationFailsTask(t *testing.T) {
	a := newExecutor(t, ExecutorConfig{}, map[string]Operation{
		"boom": OperationFunc(func(context.Context, *workflow.Task) (any, error) {
			panic("collaborator blew up")
		}),
	})

	task := executionTask("t1", "boom")
	assert.False(t, a.AssignTask(context.Background(), task))
	assert.Equal(t, workflow.TaskFailed, task.Status())
	assert.Contains(t, task.Error(), "collaborator blew up")
	assert.Empty(t, a.ActiveTasks())

	// Agent 仍可继续接收任务
	a.RegisterOperation("ok", OperationFunc(func(context.Context, *workflow.Task) (any, error) { return 1, nil }))
	assert.True(t, a.AssignTask(context.Background(), executionTask("t2", "ok")))
}
