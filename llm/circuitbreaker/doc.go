// Package circuitbreaker 提供按依赖隔离的三态熔断器。
//
// 每个外部依赖（通常是一个 LLM provider）对应一个熔断器实例，由 Registry
// 在首次使用时创建且永不删除，一个 provider 的故障不会拖垮其他 provider。
package circuitbreaker
