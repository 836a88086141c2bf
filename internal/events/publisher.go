// Package events publishes recommendation run notifications over NATS.
//
// Events are published to subjects under a configurable prefix:
//   - {prefix}.books.recommended  one per user whose book list was saved
//   - {prefix}.goals.computed     one per goals batch or single-user run
//
// Publishing is fire-and-forget. Consumers that need durability should bind
// a JetStream stream to the subjects.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "bookrec"

// BooksRecommended is published after a user's book list is produced.
type BooksRecommended struct {
	RunID           string                 `json:"run_id"`
	UserID          int64                  `json:"user_id"`
	Recommendations []catalog.HybridResult `json:"recommendations"`
	Persisted       bool                   `json:"persisted"`
	At              time.Time              `json:"at"`
}

// GoalsComputed is published after a goals run.
type GoalsComputed struct {
	RunID         string    `json:"run_id"`
	UserID        *int64    `json:"user_id,omitempty"`
	UserCount     int       `json:"user_count"`
	InactiveCount int       `json:"inactive_count"`
	ReportRows    int       `json:"report_rows"`
	At            time.Time `json:"at"`
}

// Publisher emits run events.
type Publisher interface {
	BooksRecommended(ctx context.Context, ev BooksRecommended) error
	GoalsComputed(ctx context.Context, ev GoalsComputed) error
	Close() error
}

// NATSPublisher publishes JSON events on a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bookrec"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, prefix, logger)
	p.owned = true
	p.logger.Info("connected to NATS", zap.String("url", url))
	return p, nil
}

// NewNATSPublisher wraps an existing connection. The caller keeps ownership
// of nc.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: nc, prefix: prefix, logger: logger}
}

// BooksSubject is the subject for BooksRecommended events.
func (p *NATSPublisher) BooksSubject() string { return p.prefix + ".books.recommended" }

// GoalsSubject is the subject for GoalsComputed events.
func (p *NATSPublisher) GoalsSubject() string { return p.prefix + ".goals.computed" }

// BooksRecommended publishes ev.
func (p *NATSPublisher) BooksRecommended(ctx context.Context, ev BooksRecommended) error {
	return p.publish(ctx, p.BooksSubject(), ev)
}

// GoalsComputed publishes ev.
func (p *NATSPublisher) GoalsComputed(ctx context.Context, ev GoalsComputed) error {
	return p.publish(ctx, p.GoalsSubject(), ev)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, ev any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}

// Close drains an owned connection. Borrowed connections are left open.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.conn.Drain()
}

// Nop discards every event.
type Nop struct{}

func (Nop) BooksRecommended(context.Context, BooksRecommended) error { return nil }
func (Nop) GoalsComputed(context.Context, GoalsComputed) error       { return nil }
func (Nop) Close() error                                             { return nil }
