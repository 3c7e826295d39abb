package natsbus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/toobutta/auterity-workflow-studio-sub004/agent"
	"github.com/toobutta/auterity-workflow-studio-sub004/config"
	"go.uber.org/zap"
)

// Subject returns the subject an event type is published on.
func Subject(prefix string, t agent.EventType) string {
	return fmt.Sprintf("%s.%s", prefix, t)
}

// ViolationSubject is where external checkers report violations.
func ViolationSubject(prefix string) string {
	return prefix + ".violations"
}

// ViolationReport is the inbound violation message.
type ViolationReport struct {
	AgentID     string `json:"agent_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ViolationReporter accepts violation reports (collaboration.Manager).
type ViolationReporter interface {
	ReportViolation(agentID, description, severity string) error
}

// Bridge forwards bus events to NATS.
type Bridge struct {
	conn   *nats.Conn
	server *Server
	prefix string
	logger *zap.Logger

	mu    sync.Mutex
	subs  map[agent.EventBus]string
	inbox *nats.Subscription
}

// Connect dials cfg.URL, or starts an embedded server on cfg.Port when the
// URL is empty.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*Bridge, error) {
	var server *Server
	url := cfg.URL
	if url == "" {
		s, err := StartEmbedded(cfg.Port)
		if err != nil {
			return nil, err
		}
		server, url = s, s.ClientURL()
	}
	conn, err := nats.Connect(url, nats.Name("workflow-orchestrator"))
	if err != nil {
		if server != nil {
			server.Close()
		}
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b := NewBridge(conn, cfg.SubjectPrefix, logger)
	b.server = server
	b.logger.Info("nats bridge connected", zap.String("url", url), zap.Bool("embedded", server != nil))
	return b, nil
}

// NewBridge wraps an existing connection.
func NewBridge(conn *nats.Conn, prefix string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "orchestrator.events"
	}
	return &Bridge{
		conn:   conn,
		prefix: prefix,
		logger: logger.With(zap.String("component", "natsbus")),
		subs:   make(map[agent.EventBus]string),
	}
}

// Conn returns the underlying connection.
func (b *Bridge) Conn() *nats.Conn { return b.conn }

// Prefix returns the subject prefix.
func (b *Bridge) Prefix() string { return b.prefix }

// Attach subscribes the bridge to every event type on bus.
func (b *Bridge) Attach(bus agent.EventBus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[bus]; ok {
		return
	}
	b.subs[bus] = bus.Subscribe(b.forward)
}

func (b *Bridge) forward(e agent.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("marshal event", zap.String("event_id", e.ID), zap.Error(err))
		return
	}
	if err := b.conn.Publish(Subject(b.prefix, e.Type), data); err != nil {
		b.logger.Warn("publish event to nats", zap.String("event_id", e.ID), zap.Error(err))
	}
}

// ServeViolations routes inbound violation reports to r.
func (b *Bridge) ServeViolations(r ViolationReporter) error {
	sub, err := b.conn.Subscribe(ViolationSubject(b.prefix), func(msg *nats.Msg) {
		var report ViolationReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			b.logger.Warn("malformed violation report", zap.Error(err))
			return
		}
		if err := r.ReportViolation(report.AgentID, report.Description, report.Severity); err != nil {
			b.logger.Warn("violation report rejected", zap.String("agent_id", report.AgentID), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe violations: %w", err)
	}
	b.mu.Lock()
	b.inbox = sub
	b.mu.Unlock()
	return nil
}

// Flush waits for the server to process buffered publishes.
func (b *Bridge) Flush() error {
	return b.conn.Flush()
}

// Close detaches from every bus, flushes and closes the connection and
// stops an embedded server.
func (b *Bridge) Close() {
	b.mu.Lock()
	for bus, id := range b.subs {
		bus.Unsubscribe(id)
	}
	b.subs = map[agent.EventBus]string{}
	if b.inbox != nil {
		_ = b.inbox.Unsubscribe()
		b.inbox = nil
	}
	b.mu.Unlock()

	_ = b.conn.Flush()
	b.conn.Close()
	if b.server != nil {
		b.server.Close()
	}
}
