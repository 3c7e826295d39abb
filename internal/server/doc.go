// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
包 server 提供编排核心的 HTTP 外部接口与服务器生命周期管理。

# 概述

Manager 封装 net/http.Server，负责非阻塞启动、优雅关闭与异步错误
传播；NewHandler 构建路由，把协作管理器的公开操作暴露为 JSON 接口，
并通过 WebSocket 推送生命周期事件。

# 路由

  - GET  /health：存活检查
  - GET  /status：系统状态（Agent 绩效、熔断器、健康等级）
  - GET  /metrics：Prometheus 指标
  - POST /workflows：执行自主工作流
  - POST /emergency-stop、POST /resume：紧急停止与恢复
  - GET  /collaborations：协作列表
  - POST /violations：上报违规
  - GET  /events：WebSocket 事件流，支持 types 过滤与 replay 回放

# 中间件

Chain 串联 Recovery、RequestLogger 与 Metrics 中间件；Metrics 以路由
模式而非原始路径作为标签，避免标签基数膨胀。
*/
package server
