package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/config"
)

// CheckinConsumer drains the ticket.verified queue into a line-per-event
// check-in log.
type CheckinConsumer struct {
	cfg config.BrokerConfig
	log *zap.Logger
}

func NewCheckinConsumer(cfg config.BrokerConfig, log *zap.Logger) *CheckinConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckinConsumer{cfg: cfg, log: log.Named("checkin.consumer")}
}

// Run connects to RabbitMQ, declares the queue (durable) and consumes until
// ctx is cancelled. Lost connections are retried with exponential backoff
// capped at 30s. Messages that cannot be handled are rejected without
// requeue so a bad payload cannot spin the loop.
func (c *CheckinConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *CheckinConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info("consuming", zap.String("queue", c.cfg.Queue), zap.String("log_path", c.cfg.LogPath))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				c.log.Warn("handle message failed", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *CheckinConsumer) handleMessage(body []byte) error {
	var ev TicketVerifiedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.BookingID == "" {
		return errors.New("event without booking id")
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.LogPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// formatLine renders one check-in log line, e.g.
//
//	[2026-10-14T19:58:03Z] Ticket accepted | booking=BK-42 | showtime_id=5 | cinema_id=3 | operator_id=7 | movie="Dune" | hall="Hall 1" | seats=[A1,A2]
func formatLine(ev TicketVerifiedEvent) string {
	verdict := "accepted"
	if !ev.Accepted {
		verdict = "rejected"
	}
	line := fmt.Sprintf("[%s] Ticket %s | booking=%s | showtime_id=%s | cinema_id=%d | operator_id=%d",
		ev.VerifiedAt, verdict, ev.BookingID, ev.ShowtimeID, ev.CinemaID, ev.OperatorID)
	if ev.MovieTitle != "" {
		line += fmt.Sprintf(" | movie=%q | hall=%q", ev.MovieTitle, ev.HallName)
	}
	if len(ev.SeatLabels) > 0 {
		line += fmt.Sprintf(" | seats=[%s]", strings.Join(ev.SeatLabels, ","))
	}
	if ev.Reason != "" {
		line += fmt.Sprintf(" | reason=%q", ev.Reason)
	}
	return line + "\n"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
