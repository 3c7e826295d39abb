// Copyright (c) Auterity Workflow Studio Authors.
// Licensed under the MIT License.

/*
包 eventstream 把通知总线事件转发到 Redis，供外部仪表盘与伦理检查器消费。

每个事件以 JSON 形式 PUBLISH 到配置的频道，同时写入 "<channel>:recent"
列表（LPUSH + LTRIM）保留最近 N 条，便于新连接的观察者回放。
Subscribe 提供频道的阻塞消费，用于 CLI 的事件跟随。
*/
package eventstream
