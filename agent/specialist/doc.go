// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package specialist 提供三种专用 Agent：优化、监控与执行。

# 概述

每个专用 Agent 都嵌入 agent.BaseAgent，只实现自身的 ExecuteTask 与
Optimize。对外部协作方（文本补全、遥测、执行操作）的调用都经过
按依赖名隔离的熔断器。

# Agent 类型

  - OptimizationAgent — 能力 optimization / analysis；通过文本补全生成
    结构化优化方案，宽松解析 JSON，保留有界方案历史（LRU）
  - MonitoringAgent — 能力 monitoring；采样 MetricsSource，按阈值表
    生成异常（value > 1.5×threshold 为 high），并尽力生成趋势预测
  - ExecutorAgent — 能力 execution；按 task.context["operation"] 解析
    并运行 Operation，记录耗时用于平均

# 自我优化

Optimize 只依赖回看窗口内的任务结果，重复调用结果一致。
*/
package specialist
