// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package types 提供编排核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、workflow、llm
等上层模块提供统一的错误契约与 Agent 描述数据，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Retryable、Provider 标记
  - 错误码分为三组：外部依赖（LLM / 遥测）、调度、编排不变量
  - AgentDescriptor — Agent 身份与能力声明（Role、Capability、Autonomy）
  - AgentPerformance — 由 Agent 自身维护的 EMA 绩效记录

# 主要能力

  - 错误工具链：NewError / WithCause / IsErrorCode / IsRetryable
  - errors.Is 按错误码比较，便于哨兵错误与包装错误互相匹配
  - Invariant：编排不变量被破坏时以 panic 暴露程序缺陷
*/
package types
