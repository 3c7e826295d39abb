// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，为编排核心配置全局
// TracerProvider 与 MeterProvider。agent、coordinator 与 llm 通过
// otel.Tracer 创建 span；遥测禁用时保持 noop 实现，不连接任何外部服务。
package telemetry
