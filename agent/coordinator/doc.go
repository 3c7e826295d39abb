// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package coordinator 实现协调 Agent：把一个目标分解为工作流并按能力分派任务。

# 调度流程

 1. Plan：请求文本补全生成工作流大纲（仅供参考，不参与控制流；失败时记录日志并继续）
 2. Materialize：创建 planning 状态的 Workflow，附带当前 Agent 描述快照
 3. Dispatch：进入 executing，按列表顺序并遵守依赖分派。依赖失败的任务
    直接标记 failed（"dependency failed: <id>"），不执行；未知依赖与环在
    分派前标记 failed；选择能处理该任务且优先级最高的 Agent（同优先级按
    注册顺序）；无可用 Agent 时标记 failed（"no suitable agent"）
 4. Aggregate：每个任务进入终态即累计；平均耗时只统计成功任务
 5. Finalize：按 CompletionPolicy 决定 completed 或 failed

紧急停止时工作流进入 paused，剩余任务保持 pending，协调任务失败。

# 分解

task.context["tasks"] 可携带显式的 []workflow.TaskSpec（或等价 JSON）；
否则生成单个任务，类型取 context["type"]，缺省时由描述推断。
*/
package coordinator
