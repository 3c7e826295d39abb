package agent

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventTaskAssigned      EventType = "taskAssigned"
	EventTaskCompleted     EventType = "taskCompleted"
	EventTaskFailed        EventType = "taskFailed"
	EventViolationDetected EventType = "violationDetected"
	EventEmergencyStop     EventType = "emergencyStop"
)

// AllEventTypes 全部生命周期事件类型
var AllEventTypes = []EventType{
	EventTaskAssigned, EventTaskCompleted, EventTaskFailed, EventViolationDetected, EventEmergencyStop,
}

// Event 生命周期事件
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	AgentID    string         `json:"agent_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewEvent 创建事件，自动填充 ID 与时间戳
func NewEvent(eventType EventType, agentID string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		AgentID:   agentID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 定义事件总线接口
type EventBus interface {
	Publish(event Event)
	// Subscribe 注册处理器；不传 types 表示订阅全部事件
	Subscribe(handler EventHandler, types ...EventType) string
	Unsubscribe(subscriptionID string)
	Close()
}

// subscriptionCounter 用于生成唯一订阅 ID
var subscriptionCounter int64

type subscriber struct {
	id      string
	types   []EventType
	handler EventHandler
	queue   chan Event
}

func (s *subscriber) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// ChannelBus 每个订阅者拥有独立的缓冲队列和投递 goroutine，
// 同一发布者的事件按发布顺序到达每个订阅者。队列满时该订阅者丢弃事件并计数。
type ChannelBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
	closed      bool
	wg          sync.WaitGroup
	dropped     atomic.Int64
	logger      *zap.Logger
}

// NewEventBus 创建新的事件总线
func NewEventBus(bufferSize int, logger *zap.Logger) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelBus{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Publish 发布事件（非阻塞）
func (b *ChannelBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber queue full, event dropped",
				zap.String("subscription", sub.id),
				zap.String("event_type", string(event.Type)))
		}
	}
}

// Subscribe 订阅事件
func (b *ChannelBus) Subscribe(handler EventHandler, types ...EventType) string {
	sub := &subscriber{
		id:      fmt.Sprintf("sub-%d", atomic.AddInt64(&subscriptionCounter, 1)),
		types:   slices.Clone(types),
		handler: handler,
		queue:   make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.queue)
		return sub.id
	}
	b.subscribers[sub.id] = sub
	b.wg.Add(1)
	go b.deliver(sub)
	return sub.id
}

// Unsubscribe 取消订阅，已入队的事件仍会投递
func (b *ChannelBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[subscriptionID]; ok {
		delete(b.subscribers, subscriptionID)
		close(sub.queue)
	}
}

// Close 停止接收新事件，等待已入队事件投递完毕
func (b *ChannelBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Dropped 返回因队列满而丢弃的事件数
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *ChannelBus) deliver(sub *subscriber) {
	defer b.wg.Done()
	for event := range sub.queue {
		b.invoke(sub, event)
	}
}

func (b *ChannelBus) invoke(sub *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("subscription", sub.id),
				zap.String("event_type", string(event.Type)),
				zap.Any("recover", r))
		}
	}()
	sub.handler(event)
}
