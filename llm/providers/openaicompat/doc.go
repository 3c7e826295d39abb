// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
Package openaicompat 提供基于 OpenAI 兼容 chat-completions 接口的 llm.Completer 实现。

任何暴露 /v1/chat/completions 的服务（OpenAI、DeepSeek、Qwen、本地推理网关等）
都可通过配置 BaseURL 与 Model 接入。HTTP 状态码被映射为 types.Error：
4xx 客户端错误不计入熔断失败，5xx 与网络错误映射为 PROVIDER_UNAVAILABLE。
*/
package openaicompat
