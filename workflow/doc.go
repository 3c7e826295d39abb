// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package workflow 提供编排核心的任务与工作流数据模型。

# 概述

workflow 包是纯数据层：Task、Workflow、Collaboration 及其状态机。
它不包含调度逻辑，调度由 agent/coordinator 完成。所有可变字段
只能通过带校验的状态迁移方法修改，读取方使用 Snapshot 获取副本。

# 状态机

  - Task:          pending → in_progress → {completed | failed}
  - Workflow:      planning → executing → {completed | failed | paused}
  - Collaboration: forming → active → {completed | dissolved}

终态不可再迁移；Task 的 result 与 error 互斥，仅在进入终态时设置。

# 不变量

Workflow.Performance 满足 completed + failed ≤ total，进入
completed 或 failed 终态时取等号。违反时以 types.Invariant panic。

# 辅助

  - TaskSpec / NewTask：从外部描述构造任务
  - InferTaskType：根据描述关键字推断任务类型
  - RequiredCapability：任务类型到 Agent 能力标签的映射
  - ValidateDependencies：未知依赖与环检测
*/
package workflow
