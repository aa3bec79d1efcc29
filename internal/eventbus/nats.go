// Package eventbus publishes generation lifecycle events over NATS so
// other services (analytics, notifications) can react without coupling to
// the request path. Publishing is always best-effort.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects for generation lifecycle events.
const (
	SubjectGenerationStarted   = "generation.started"
	SubjectGenerationCompleted = "generation.completed"
	SubjectGenerationFailed    = "generation.failed"
	SubjectApplyCompleted      = "apply.completed"
	SubjectSandboxKilled       = "sandbox.killed"
)

// Bus wraps the NATS connection. A nil Bus, or one whose connection
// dropped, silently discards publishes: the event stream is advisory.
type Bus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials NATS. Callers treat a connect error as degraded mode, not
// a startup failure.
func Connect(natsURL string, logger *zap.Logger) (*Bus, error) {
	conn, err := nats.Connect(natsURL,
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: conn, logger: logger}, nil
}

// Close drains the connection.
func (b *Bus) Close() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}

// GenerationEvent is the payload for generation.* subjects.
type GenerationEvent struct {
	RequestID string    `json:"requestId"`
	SandboxID string    `json:"sandboxId,omitempty"`
	Model     string    `json:"model,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ApplyEvent is the payload for apply.completed.
type ApplyEvent struct {
	SandboxID    string    `json:"sandboxId"`
	FilesWritten int       `json:"filesWritten"`
	Repaired     []string  `json:"repaired,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publish marshals and publishes one event.
func (b *Bus) Publish(subject string, event interface{}) {
	if b == nil || b.conn == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		b.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
