package events

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// AMQPConfig configures the AMQP event publisher.
type AMQPConfig struct {
	URL          string
	Exchange     string
	TLS          bool
	Heartbeat    time.Duration
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// AMQPPublisher publishes events to a durable topic exchange, routing each
// message by its event type (e.g. "market.resolved"). A closed connection is
// redialled in the background with exponential backoff; publishes made while
// disconnected fail fast.
type AMQPPublisher struct {
	cfg    AMQPConfig
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQPPublisher, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "stakefund.events"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	p := &AMQPPublisher{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "amqp_publisher")),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	amqpCfg := amqp.Config{Heartbeat: p.cfg.Heartbeat, Locale: "en_US"}
	if p.cfg.TLS {
		amqpCfg.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	conn, err := amqp.DialConfig(p.cfg.URL, amqpCfg)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp: declare exchange %s: %w", p.cfg.Exchange, err)
	}

	p.mu.Lock()
	p.conn, p.channel = conn, ch
	p.mu.Unlock()

	go p.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	p.logger.Info("amqp connected", slog.String("exchange", p.cfg.Exchange))
	return nil
}

// watch redials after the broker drops the connection.
func (p *AMQPPublisher) watch(closeCh <-chan *amqp.Error) {
	closeErr, ok := <-closeCh
	p.mu.Lock()
	shutdown := p.closed
	p.conn, p.channel = nil, nil
	p.mu.Unlock()
	if shutdown || !ok && closeErr == nil {
		return
	}
	if closeErr != nil {
		p.logger.Warn("amqp connection lost", slog.String("error", closeErr.Error()))
	}

	delay := p.cfg.InitialDelay
	for {
		time.Sleep(delay)
		p.mu.Lock()
		shutdown = p.closed
		p.mu.Unlock()
		if shutdown {
			return
		}
		if err := p.connect(); err != nil {
			p.logger.Warn("amqp reconnect failed",
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			delay *= 2
			if delay > p.cfg.MaxDelay {
				delay = p.cfg.MaxDelay
			}
			continue
		}
		return
	}
}

// Publish implements domain.EventPublisher.
func (p *AMQPPublisher) Publish(_ context.Context, evts []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return errors.New("amqp: not connected")
	}
	for _, e := range evts {
		body, err := Encode(e)
		if err != nil {
			return fmt.Errorf("amqp: encode %s: %w", e.Type, err)
		}
		if err := p.channel.Publish(p.cfg.Exchange, e.Type, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    e.At,
			Type:         e.Type,
			Body:         body,
		}); err != nil {
			return fmt.Errorf("amqp: publish %s: %w", e.Type, err)
		}
	}
	return nil
}

// Close shuts the connection down and stops reconnecting.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

var _ domain.EventPublisher = (*AMQPPublisher)(nil)
