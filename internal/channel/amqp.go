package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const producer = "chatdesk"

// Envelope wraps every published payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Meta describes a published event.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// OutboundCommand asks the channel gateway to deliver a message.
type OutboundCommand struct {
	OutboundID      string        `json:"outbound_id"`
	ContactIdentity string        `json:"contact_identity"`
	Message         MessageIntent `json:"message"`
	AtHub           time.Time     `json:"at_hub"`
}

// AMQPPublisher publishes outbound commands and feedback to a topic exchange.
// It implements Sender and FeedbackSink.
type AMQPPublisher struct {
	mu          sync.Mutex
	conn        *amqp.Connection
	url         string
	exchange    string
	outboundKey string
	feedbackKey string
	logger      *zap.Logger
}

// AMQPConfig configures the publisher.
type AMQPConfig struct {
	URL         string
	Exchange    string
	OutboundKey string
	FeedbackKey string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig, logger *zap.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:         cfg.URL,
		exchange:    cfg.Exchange,
		outboundKey: cfg.OutboundKey,
		feedbackKey: cfg.FeedbackKey,
		logger:      logger,
	}
	conn, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func (p *AMQPPublisher) dial() (*amqp.Connection, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp declare exchange: %w", err)
	}
	return conn, nil
}

// Send publishes an outbound command. The generated outbound id is the
// message's provider id for reply matching.
func (p *AMQPPublisher) Send(ctx context.Context, contactIdentity string, intent MessageIntent) (string, error) {
	cmd := OutboundCommand{
		OutboundID:      uuid.NewString(),
		ContactIdentity: contactIdentity,
		Message:         intent,
		AtHub:           time.Now().UTC(),
	}
	if err := p.publish(ctx, p.outboundKey, cmd.OutboundID, cmd); err != nil {
		return "", err
	}
	return cmd.OutboundID, nil
}

func (p *AMQPPublisher) SubmitFeedback(ctx context.Context, submission FeedbackSubmission) error {
	return p.publish(ctx, p.feedbackKey, submission.SessionID, submission)
}

func (p *AMQPPublisher) publish(ctx context.Context, key, correlationID string, data any) error {
	body, err := json.Marshal(Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: &correlationID,
			Producer:      producer,
			Time:          time.Now().UTC(),
			Type:          key,
		},
		Data: data,
	})
	if err != nil {
		return err
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("amqp confirm mode: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("amqp publish to %s nacked", key)
	}
	p.logger.Debug("published", zap.String("key", key), zap.String("exchange", p.exchange))
	return nil
}

// channel opens a channel, redialing once if the connection was lost.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial()
		if err != nil {
			return nil, err
		}
		p.conn = conn
	}
	return p.conn.Channel()
}

// Close closes the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
