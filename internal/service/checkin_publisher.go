// Package service holds outbound integrations of the backend. The check-in
// publisher sends verification decisions to RabbitMQ.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/config"
	"github.com/iliyamo/cinema-ticket-scanner/internal/queue"
)

// CheckinPublisher publishes TicketVerifiedEvent messages.
type CheckinPublisher struct {
	cfg config.BrokerConfig
	log *zap.Logger
}

func NewCheckinPublisher(cfg config.BrokerConfig, log *zap.Logger) *CheckinPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckinPublisher{cfg: cfg, log: log.Named("checkin.publisher")}
}

// PublishTicketVerified publishes one event to the check-in queue. It dials
// per call and never panics; errors are logged and returned so the caller
// can ignore them. Messages are marked persistent.
func (p *CheckinPublisher) PublishTicketVerified(ctx context.Context, ev queue.TicketVerifiedEvent) error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		p.log.Warn("dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// idempotent; durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(p.cfg.Queue, true, false, false, false, nil); err != nil {
		p.log.Warn("queue declare failed", zap.String("queue", p.cfg.Queue), zap.Error(err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", p.cfg.Queue, false, false, pub); err != nil {
		p.log.Warn("publish failed", zap.String("booking_id", ev.BookingID), zap.Error(err))
		return err
	}
	return nil
}
