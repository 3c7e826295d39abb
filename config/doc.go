// Package config 提供编排核心的配置管理功能。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（ORCHESTRATOR_ 前缀）→ 验证器。
// 熔断阈值、恢复超时、EMA α、监控阈值等启动参数均可覆盖。
package config
