// Package natsnotify implements coordination.Notifier over an embedded
// NATS server, adapted from the teacher's internal/nats client/server
// wiring: the same embedded nats-server for single-binary deployments,
// the same nats.go connection for pub/sub. Subjects are tenant-and-
// agent keyed instead of the teacher's session-keyed scheme, so
// message_pending callers can Wait(ctx) on a subject instead of
// polling. Every call is best-effort: a publish or subscribe failure
// never blocks a caller that falls back to changes_since/pending(...).
package natsnotify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/idgen"
)

// EmbeddedServerConfig configures the in-process NATS server.
type EmbeddedServerConfig struct {
	Host string
	Port int
}

// EmbeddedServer wraps an in-process nats-server instance, started and
// stopped alongside caliberd itself.
type EmbeddedServer struct {
	srv  *server.Server
	cfg  EmbeddedServerConfig
	log  *clog.Logger
}

func StartEmbedded(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		cfg.Port = 4222
	}
	opts := &server.Options{Host: cfg.Host, Port: cfg.Port, NoSigs: true}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("natsnotify: start embedded server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("natsnotify: embedded server not ready for connections")
	}
	return &EmbeddedServer{srv: ns, cfg: cfg, log: clog.New("NATS")}, nil
}

func (e *EmbeddedServer) URL() string {
	return fmt.Sprintf("nats://%s:%d", e.cfg.Host, e.cfg.Port)
}

func (e *EmbeddedServer) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}

// Notifier publishes tenant-and-agent scoped signals over a NATS
// connection. The wire payload is empty: subscribers only learn that
// something changed, never what, and must call pending(...)/
// changes_since to find out.
type Notifier struct {
	conn *nc.Conn
	log  *clog.Logger
}

// Connect dials url (e.g. an EmbeddedServer's URL, or an external
// cluster) with indefinite reconnect, matching the teacher's client.
func Connect(url string) (*Notifier, error) {
	conn, err := nc.Connect(url,
		nc.ReconnectWait(2*time.Second),
		nc.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("natsnotify: connect: %w", err)
	}
	return &Notifier{conn: conn, log: clog.New("NATS").With("notifier")}, nil
}

func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

func agentSubject(tenantID, agentID idgen.ID) string {
	return fmt.Sprintf("caliber.%s.agent.%s", tenantID, agentID)
}

func agentTypeSubject(tenantID idgen.ID, agentType string) string {
	return fmt.Sprintf("caliber.%s.agent_type.%s", tenantID, agentType)
}

func (n *Notifier) NotifyAgent(ctx context.Context, tenantID, agentID idgen.ID) error {
	if err := n.conn.Publish(agentSubject(tenantID, agentID), nil); err != nil {
		return fmt.Errorf("natsnotify: publish: %w", err)
	}
	return nil
}

func (n *Notifier) NotifyAgentType(ctx context.Context, tenantID idgen.ID, agentType string) error {
	if err := n.conn.Publish(agentTypeSubject(tenantID, agentType), nil); err != nil {
		return fmt.Errorf("natsnotify: publish: %w", err)
	}
	return nil
}

// Wait blocks until a notification arrives on agentID's subject, ctx is
// canceled, or the connection errors. Callers that don't wire a
// Notifier fall back to polling pending(...)/changes_since instead.
func (n *Notifier) Wait(ctx context.Context, tenantID, agentID idgen.ID) error {
	sub, err := n.conn.SubscribeSync(agentSubject(tenantID, agentID))
	if err != nil {
		return fmt.Errorf("natsnotify: subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(24 * time.Hour)
	}
	_, err = sub.NextMsg(time.Until(deadline))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("natsnotify: wait: %w", err)
	}
	return nil
}
