package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const reconnectDelay = 3 * time.Second

// AMQPPublisher publishes lifecycle events to a topic exchange, using the
// event type as routing key. The connection is monitored and re-dialed when
// the broker drops it; publishes during an outage are dropped (the event
// stream is advisory, the store remains the source of truth).
type AMQPPublisher struct {
	url      string
	exchange string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
	done    chan struct{}
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		done:     make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	go p.monitor()
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.channel = ch
	return nil
}

func (p *AMQPPublisher) monitor() {
	for {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn == nil {
			return
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-p.done:
			return
		case err := <-notifyClose:
			if err != nil {
				log.Printf("amqp connection lost: %v", err)
			}
			p.reconnect()
		}
	}
}

func (p *AMQPPublisher) reconnect() {
	for {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.connect(); err != nil {
			log.Printf("amqp reconnect failed: %v", err)
			time.Sleep(reconnectDelay)
			continue
		}
		log.Printf("amqp reconnected")
		return
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("amqp marshal event failed: %v", err)
		return
	}

	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()
	if ch == nil {
		return
	}

	err = ch.PublishWithContext(ctx, p.exchange, string(ev.Type), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   ev.At,
		Body:        body,
	})
	if err != nil {
		log.Printf("amqp publish %s failed: %v", ev.Type, err)
	}
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
