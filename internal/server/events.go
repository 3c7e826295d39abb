package server

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/types"
	"go.uber.org/zap"
)

const (
	eventQueueSize    = 64
	eventWriteTimeout = 5 * time.Second
	maxReplay         = 500
)

// parseEventTypes 解析逗号分隔的事件类型过滤，空串表示全部
func parseEventTypes(raw string) ([]agent.EventType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []agent.EventType
	for _, part := range strings.Split(raw, ",") {
		t := agent.EventType(strings.TrimSpace(part))
		if !slices.Contains(agent.AllEventTypes, t) {
			return nil, types.NewError(types.ErrInvalidRequest, "unknown event type: "+string(t))
		}
		out = append(out, t)
	}
	return out, nil
}

func parseReplay(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, types.NewError(types.ErrInvalidRequest, "replay must be a non-negative integer")
	}
	return min(n, maxReplay), nil
}

// events 把总线事件以 JSON 文本帧推送给 WebSocket 客户端。
// 慢客户端的事件被丢弃，不会阻塞总线投递。
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventTypes(r.URL.Query().Get("types"))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	replay, err := parseReplay(r.URL.Query().Get("replay"))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	// 长连接不受服务器读写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	if h.conns != nil {
		h.conns.ConnectionOpened()
		defer h.conns.ConnectionClosed()
	}

	ctx := conn.CloseRead(r.Context())
	logger := h.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Info("event stream client connected", zap.Int("replay", replay))

	queue := make(chan agent.Event, eventQueueSize)
	subID := h.bus.Subscribe(func(e agent.Event) {
		select {
		case queue <- e:
		default:
			logger.Warn("event stream client too slow, event dropped", zap.String("event_type", string(e.Type)))
		}
	}, filter...)
	defer h.bus.Unsubscribe(subID)

	if replay > 0 && h.recent != nil {
		past, err := h.recent.Recent(ctx, replay)
		if err != nil {
			logger.Warn("event replay failed", zap.Error(err))
		}
		for _, e := range past {
			if len(filter) > 0 && !slices.Contains(filter, e.Type) {
				continue
			}
			if err := writeEvent(ctx, conn, e); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("event stream client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-queue:
			if err := writeEvent(ctx, conn, e); err != nil {
				logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e agent.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
