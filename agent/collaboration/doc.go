// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package collaboration 提供多 Agent 系统的顶层门面 Manager。

Manager 持有 Coordinator（及其 Agent 注册表）、协作组（共享目标的命名
Agent 分组）与事件总线，对外暴露系统公共 API：

  - ExecuteAutonomousWorkflow：端到端运行一个协调任务，始终返回结构化结果
  - OptimizeAgentSystem：并发调用每个 Agent 的自优化钩子，并请求系统级建议
  - GetSystemStatus：按平均成功率给出健康分级，附带熔断器快照
  - EmergencyStop：停止所有 Agent 并发布 emergencyStop 事件
  - ReportViolation：外部伦理检查器的接入点，发布 violationDetected 事件

Start 启动基于 cron 的周期自优化任务，Close 停止它并等待运行中的任务结束。
*/
package collaboration
