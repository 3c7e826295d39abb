// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package llm 定义编排核心与文本补全协作方之间的边界。

# 概述

编排核心不关心底层模型，只依赖 [Completer]：给定 prompt 与选项返回文本，
可能以 ErrProviderUnavailable 或 ErrTimeout 失败。

# 弹性

[Guarded] 包装任意 Completer，每次调用都经过以 provider 为键的熔断器，
可选按 provider 限流，并记录调用指标与 OpenTelemetry span。核心内所有
补全调用都必须经由 Guarded。

# 实现

  - providers/openaicompat：OpenAI 兼容的 chat-completions HTTP 客户端
  - testutil/mocks.MockCompleter：测试用可编排实现
*/
package llm
