package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix prefixes the NATS subject of every progress event. The
// task id is appended.
const SubjectPrefix = "chatvec.progress."

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher forwards snapshots to NATS. Publish failures are logged and
// dropped so that reporting never interferes with a sync run.
type Publisher struct {
	conn   Conn
	nc     *nats.Conn
	logger *slog.Logger
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger.With("component", "progress-publisher")}
}

// Connect dials NATS with reconnect handling and returns a Publisher that
// owns the connection.
func Connect(url, token string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("chatvec"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p := NewPublisher(nc, logger)
	p.nc = nc
	return p, nil
}

// Publish sends snap to its task subject.
func (p *Publisher) Publish(snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.Warn("failed to encode progress", "task", snap.TaskID, "err", err)
		return
	}
	if err := p.conn.Publish(SubjectPrefix+snap.TaskID, payload); err != nil {
		p.logger.Warn("failed to publish progress", "task", snap.TaskID, "err", err)
	}
}

// Close drains the connection if the publisher owns one.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
