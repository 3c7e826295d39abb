// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的编排指标采集，以及供 Monitoring Agent
使用的运行时遥测采样器。

# 核心类型

  - Collector：持有独立的 prometheus.Registry（不使用全局注册表），
    同时实现 llm.CallObserver、agent.TaskObserver 与
    coordinator.WorkflowObserver，并提供熔断器状态变更回调
    ObserveBreakerTransition，可直接赋给 circuitbreaker.Config.OnStateChange。
  - RuntimeSampler：实现 specialist.MetricsSource。CPU 与内存读取自
    注册表中的 process/go 收集器，错误率、响应时间与吞吐量由两次采样
    之间的任务计数差值计算。

# 指标

  - HTTP：请求总数与耗时，按 method/path/status 分组
  - 补全调用：调用总数（按错误码）与耗时，按 provider/tag 分组
  - 任务：执行总数与耗时，按 agent_id/task_type 分组；Agent 成功率 Gauge
  - 熔断器：状态转换计数与当前状态 Gauge
  - 工作流：按终态计数与耗时
*/
package metrics
