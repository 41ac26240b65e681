package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Envelope is the wire form of an event on NATS.
type Envelope struct {
	Type    Type      `json:"type"`
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
	Payload Event     `json:"payload"`
}

// NATSSink forwards bus events to NATS subjects "<prefix>.<type>".
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSSink connects to url with reconnects enabled.
func NewNATSSink(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("mirador-autoops"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, utils.NewAppError("events.NewNATSSink", "connect nats", err)
	}
	if prefix == "" {
		prefix = "autoops.events"
	}
	logger = utils.LoggerOrDefault(logger)
	logger.Info("connected to NATS", slog.String("url", url), slog.String("prefix", prefix))
	return &NATSSink{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the NATS subject used for t.
func (s *NATSSink) Subject(t Type) string {
	return fmt.Sprintf("%s.%s", s.prefix, t)
}

// Handle publishes one event. It is meant to be passed to Bus.Subscribe.
func (s *NATSSink) Handle(event Event) {
	data, err := Encode(event)
	if err != nil {
		s.logger.Error("encode event", slog.String("type", string(event.Type())), slog.Any("error", err))
		return
	}
	if err := s.conn.Publish(s.Subject(event.Type()), data); err != nil {
		s.logger.Warn("publish event to NATS failed",
			slog.String("type", string(event.Type())),
			slog.Any("error", err),
		)
	}
}

// Close flushes pending messages and disconnects.
func (s *NATSSink) Close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
	}
	s.conn = nil
}

// Encode renders event as a JSON Envelope.
func Encode(event Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		Type:    event.Type(),
		Subject: event.Subject(),
		At:      event.OccurredAt(),
		Payload: event,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.Type(), err)
	}
	return data, nil
}
