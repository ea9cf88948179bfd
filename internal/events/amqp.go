package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"listing-snapshot-api/internal/model"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchange is the fanout exchange downstream consumers bind to.
const DefaultExchange = "bptf-snapshot.created"

const (
	minRedialBackoff = 500 * time.Millisecond
	maxRedialBackoff = 30 * time.Second
)

var errRedialBackoff = errors.New("amqp: waiting to reconnect")

// AMQPConfig holds RabbitMQ connection settings.
type AMQPConfig struct {
	URL      string
	Exchange string
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpConn interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type dialer func(url string) (amqpConn, error)

type liveConn struct{ *amqp.Connection }

func (c liveConn) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return liveConn{conn}, nil
}

// AMQPPublisher publishes snapshots to a durable fanout exchange. A lost
// connection or channel is re-established on the next Publish, with
// exponential backoff between failed dials.
type AMQPPublisher struct {
	url      string
	exchange string
	dial     dialer
	now      func() time.Time
	log      *zap.Logger

	mu       sync.Mutex
	conn     amqpConn
	ch       amqpChannel
	chClosed chan *amqp.Error
	backoff  time.Duration
	nextDial time.Time
	closed   bool
}

// NewAMQPPublisher connects to RabbitMQ and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig, log *zap.Logger) (*AMQPPublisher, error) {
	return newAMQPPublisher(cfg, dialAMQP, log)
}

func newAMQPPublisher(cfg AMQPConfig, dial dialer, log *zap.Logger) (*AMQPPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &AMQPPublisher{
		url:      cfg.URL,
		exchange: cfg.Exchange,
		dial:     dial,
		now:      time.Now,
		log:      log.Named("events.amqp"),
	}
	if p.exchange == "" {
		p.exchange = DefaultExchange
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.channel(); err != nil {
		return nil, err
	}
	p.log.Info("connected", zap.String("exchange", p.exchange))
	return p, nil
}

// channel returns an open channel, dialing again if the broker dropped the
// previous one. Callers hold p.mu.
func (p *AMQPPublisher) channel() (amqpChannel, error) {
	if p.ch != nil {
		select {
		case amqpErr := <-p.chClosed:
			p.log.Warn("channel closed", zap.Any("reason", amqpErr))
			p.ch = nil
		default:
			return p.ch, nil
		}
	}

	now := p.now()
	if now.Before(p.nextDial) {
		return nil, errRedialBackoff
	}

	ch, err := p.open()
	if err != nil {
		p.backoff = min(max(2*p.backoff, minRedialBackoff), maxRedialBackoff)
		p.nextDial = now.Add(p.backoff)
		p.log.Warn("reconnect failed", zap.Duration("retry_in", p.backoff), zap.Error(err))
		return nil, err
	}
	p.backoff = 0
	p.nextDial = time.Time{}
	p.ch = ch
	p.chClosed = ch.NotifyClose(make(chan *amqp.Error, 1))
	return ch, nil
}

func (p *AMQPPublisher) open() (amqpChannel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		if p.conn != nil {
			p.log.Warn("connection lost, redialing")
		}
		conn, err := p.dial(p.url)
		if err != nil {
			p.conn = nil
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		p.conn.Close()
		p.conn = nil
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		p.conn.Close()
		p.conn = nil
		return nil, fmt.Errorf("amqp declare exchange %s: %w", p.exchange, err)
	}
	return ch, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, snapshot *model.Snapshot) error {
	body, err := encode(snapshot)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    snapshot.ID,
		Timestamp:    time.Now(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return publishFailed(amqp.ErrClosed)
	}

	// One retry covers a channel that closed before its notification arrived.
	for attempt := 0; ; attempt++ {
		ch, err := p.channel()
		if err != nil {
			return publishFailed(err)
		}
		err = ch.PublishWithContext(ctx, p.exchange, "", false, false, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, amqp.ErrClosed) || attempt > 0 {
			return publishFailed(err)
		}
		p.ch = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			p.log.Warn("close channel", zap.Error(err))
		}
		p.ch = nil
	}
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
