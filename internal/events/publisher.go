package events

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/zapdesk/zapdesk-backend/internal/platform/envutil"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *logger.Logger
}

// NewFromEnv returns a RabbitMQ publisher when RABBITMQ_URL is set and a
// no-op fallback otherwise, so the inbox core runs without a broker.
func NewFromEnv(log *logger.Logger) (Publisher, error) {
	url := strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	if url == "" {
		log.Info("RABBITMQ_URL not set; domain events disabled")
		return NewFallback(log), nil
	}
	exchange := envutil.String("RABBITMQ_EXCHANGE", "inbox")
	return New(url, exchange, log)
}

func New(url, exchange string, log *logger.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqPublisher{
		conn:     conn,
		exchange: exchange,
		log:      log.With("service", "EventPublisher"),
	}, nil
}

func (p *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := msgID
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err == nil {
		p.log.Debug("published domain event", "key", key, "exchange", p.exchange)
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

type fallbackPublisher struct {
	log *logger.Logger
}

func NewFallback(log *logger.Logger) Publisher {
	return &fallbackPublisher{log: log.With("service", "EventPublisher")}
}

func (p *fallbackPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	p.log.Debug("event publishing disabled; skipped", "key", key)
	return nil
}

func (p *fallbackPublisher) Close() error {
	return nil
}
