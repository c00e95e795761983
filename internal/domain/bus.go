package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds

	// NATSQueue, when set, joins subscribers to a queue group so each
	// message is handled by one server replica.
	NATSQueue string `koanf:"nats_queue"`
}

// Topics of the analysis pipeline.
const (
	TopicAnalysisRequested = "mulerift.analysis.requested"
	TopicAnalysisCompleted = "mulerift.analysis.completed"
	TopicAnalysisFailed    = "mulerift.analysis.failed"
)

// AnalysisRequest is the payload of TopicAnalysisRequested.
type AnalysisRequest struct {
	AnalysisID string `json:"analysis_id"`
	LedgerPath string `json:"ledger_path"`
}

// AnalysisEvent is the payload of the completed and failed topics.
type AnalysisEvent struct {
	AnalysisID   string    `json:"analysis_id"`
	LedgerDigest string    `json:"ledger_digest,omitempty"`
	Status       string    `json:"status"`
	Summary      *Summary  `json:"summary,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
}
