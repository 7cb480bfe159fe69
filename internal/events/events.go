package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/nkiryanov/labtrack/internal/logger"
)

type Type string

const (
	UserRegistered    Type = "user_registered"
	LoginSucceeded    Type = "login_succeeded"
	LoginFailed       Type = "login_failed"
	TokenRefreshed    Type = "token_refreshed"
	LoggedOut         Type = "logged_out"
	SessionsRevoked   Type = "sessions_revoked"
	PasswordChanged   Type = "password_changed"
	UserRoleChanged   Type = "user_role_changed"
	UserActiveChanged Type = "user_active_changed"
)

// Audit event
// UserID is uuid.Nil when the user is not known, e.g. failed login with unknown username
type Event struct {
	Type   Type              `json:"type"`
	UserID uuid.UUID         `json:"user_id"`
	At     time.Time         `json:"at"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Publisher never fails the caller: delivery problems are the publisher's to log
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Publisher that drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger logger.Logger
}

// Create async publisher. Writes are batched in background, failures are logged
func NewKafkaPublisher(brokers []string, topic string, l logger.Logger) *KafkaPublisher {
	l = l.With("component", "events", "topic", topic)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		AllowAutoTopicCreation: true,
		BatchTimeout:           100 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				l.Error("audit events not delivered", "count", len(messages), "error", err)
			}
		},
	}

	return &KafkaPublisher{writer: writer, logger: l}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	msg, err := encode(event)
	if err != nil {
		p.logger.Error("audit event not encoded", "type", event.Type, "error", err)
		return
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("audit event not published", "type", event.Type, "error", err)
	}
}

// Flush pending messages and close connections
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Events of one user share a key and so a partition, which keeps them ordered
func encode(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.UserID.String()),
		Value: value,
		Time:  event.At,
	}, nil
}
