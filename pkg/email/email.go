package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/stockhold-backend/pkg/config"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
)

// Message is one outbound email handed to the transport.
type Message struct {
	NotificationID string `json:"notification_id"`
	Type           string `json:"type"`
	From           string `json:"from"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

// Sender delivers a single message. A nil error means the transport accepted it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log instead of delivering them.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"notification_id": msg.NotificationID,
		"notification":    msg.Type,
		"email_to":        msg.To,
		"subject":         msg.Subject,
	})
	s.logg.Info(logCtx, "email delivered to log transport")
	return nil
}

type publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

// PubSubSender hands messages to the external mailer through a Pub/Sub topic.
type PubSubSender struct {
	pub   publisher
	topic string
}

func NewPubSubSender(pub publisher, topic string) (*PubSubSender, error) {
	if pub == nil {
		return nil, fmt.Errorf("pubsub publisher required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("email topic required")
	}
	return &PubSubSender{pub: pub, topic: topic}, nil
}

func (s *PubSubSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email message: %w", err)
	}
	attrs := map[string]string{
		"notification_id": msg.NotificationID,
		"type":            msg.Type,
	}
	if _, err := s.pub.Publish(ctx, s.topic, data, attrs); err != nil {
		return err
	}
	return nil
}

// NewSender picks the transport named in cfg.
func NewSender(cfg config.EmailConfig, topic string, pub publisher, logg *logger.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", config.EmailTransportLog:
		return NewLogSender(logg), nil
	case config.EmailTransportPubSub:
		return NewPubSubSender(pub, topic)
	default:
		return nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
	}
}
