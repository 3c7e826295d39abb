package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/config"
	"go.uber.org/zap"
)

// ErrClosed 对已关闭的 Stream 操作时返回
var ErrClosed = errors.New("event stream is closed")

const publishTimeout = 2 * time.Second

// =============================================================================
// 📡 Redis 事件流
// =============================================================================

// Stream 将总线事件转发到 Redis 频道
type Stream struct {
	redis   *redis.Client
	channel string
	history int
	logger  *zap.Logger

	mu     sync.RWMutex
	subs   map[agent.EventBus]string
	closed bool
}

// New 连接 Redis 并创建事件流
func New(cfg config.RedisConfig, logger *zap.Logger) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Channel == "" {
		cfg.Channel = "orchestrator:events"
	}
	if cfg.History <= 0 {
		cfg.History = 100
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &Stream{
		redis:   client,
		channel: cfg.Channel,
		history: cfg.History,
		logger:  logger.With(zap.String("component", "eventstream")),
		subs:    make(map[agent.EventBus]string),
	}
	s.logger.Info("event stream connected",
		zap.String("addr", cfg.Addr),
		zap.String("channel", cfg.Channel))
	return s, nil
}

// Channel 返回发布频道
func (s *Stream) Channel() string { return s.channel }

func (s *Stream) recentKey() string { return s.channel + ":recent" }

// Attach 订阅总线上的全部事件
func (s *Stream) Attach(bus agent.EventBus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.subs[bus]; ok {
		return
	}
	s.subs[bus] = bus.Subscribe(s.forward)
}

func (s *Stream) forward(e agent.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.Publish(ctx, e); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Warn("forward event to redis", zap.String("event_id", e.ID), zap.Error(err))
	}
}

// Publish 发布事件并写入最近事件列表
func (s *Stream) Publish(ctx context.Context, e agent.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, data)
		pipe.LPush(ctx, s.recentKey(), data)
		pipe.LTrim(ctx, s.recentKey(), 0, int64(s.history-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Recent 返回最近 n 条事件，按发布顺序（旧在前）
func (s *Stream) Recent(ctx context.Context, n int) ([]agent.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if n <= 0 || n > s.history {
		n = s.history
	}

	raw, err := s.redis.LRange(ctx, s.recentKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent events: %w", err)
	}
	events := make([]agent.Event, 0, len(raw))
	for _, item := range raw {
		var e agent.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.Warn("skip malformed event in history", zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	slices.Reverse(events)
	return events, nil
}

// Subscribe 阻塞消费频道中的事件，直到 ctx 结束
func (s *Stream) Subscribe(ctx context.Context, handler agent.EventHandler) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	pubsub := s.redis.Subscribe(ctx, s.channel)
	s.mu.RUnlock()
	defer pubsub.Close()

	// 等待订阅确认，之后发布的事件不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e agent.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				s.logger.Warn("skip malformed event", zap.Error(err))
				continue
			}
			handler(e)
		}
	}
}

// Ping 检查 Redis 连接
func (s *Stream) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.redis.Ping(ctx).Err()
}

// Close 取消总线订阅并关闭连接
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for bus, id := range subs {
		bus.Unsubscribe(id)
	}
	s.logger.Info("closing event stream")
	return s.redis.Close()
}
