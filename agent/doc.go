// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package agent 提供编排核心的 Agent 抽象。

# 概述

Agent 是具有声明能力和独立绩效历史的自治执行单元。Agent 类型集合是封闭的：
每个 Agent 都嵌入 [BaseAgent]，由它实现共享契约，再挂接角色专属的
[TaskExecutor]。

	┌─────────────────────────────────────────────────────────────┐
	│                       Agent Interface                       │
	│   (ID, Descriptor, CanHandle, AssignTask, Optimize, Stop)   │
	├─────────────────────────────────────────────────────────────┤
	│                         BaseAgent                           │
	│   (preconditions, serialization, status transitions,        │
	│    panic capture, tracker, lifecycle events, approval)      │
	├─────────────────────────────────────────────────────────────┤
	│  TaskExecutor: optimization │ monitoring │ executor │ coord │
	└─────────────────────────────────────────────────────────────┘

# AssignTask

AssignTask 是任务到达 Agent 的唯一入口。同一 Agent 上串行执行，一次只处理
一个任务；不同 Agent 之间互不影响。执行体的错误与 panic 都转换为任务数据，
不会越过 Agent 边界。违反前置条件属于编程缺陷，以 INVARIANT_VIOLATION
错误 panic。

# 绩效

[Tracker] 对成功率（successRate = α·outcome + (1-α)·successRate，默认 α = 0.1）
与响应时间做指数移动平均，并保留有界的结果历史供 OptimizePerformance 使用。

# 通知总线

[EventBus] 承载生命周期事件（taskAssigned、taskCompleted、taskFailed、
violationDetected、emergencyStop）。[ChannelBus] 为每个订阅者维护独立的
FIFO 队列，同一发布者的事件按发布顺序投递。
*/
package agent
