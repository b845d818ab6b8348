package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the queue mail jobs are published to.
const DefaultQueue = "identity.mail"

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("mailer closed")

// Publisher is the subset of *amqp.Channel used by AMQPMailer.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Job is the JSON body of a queued message.
type Job struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	HTMLBody string    `json:"html_body"`
	QueuedAt time.Time `json:"queued_at"`
}

// AMQPMailer publishes messages to a durable queue on the default exchange.
type AMQPMailer struct {
	mu     sync.Mutex
	pub    Publisher
	queue  string
	closer func() error
	closed bool
}

var _ goIdentity.Mailer = (*AMQPMailer)(nil)

// NewAMQPMailer publishes through pub. The queue must already exist.
func NewAMQPMailer(pub Publisher, queue string) *AMQPMailer {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPMailer{pub: pub, queue: queue}
}

// DialAMQP connects to url, declares queue as durable and returns a mailer
// owning the connection.
func DialAMQP(url, queue string) (*AMQPMailer, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}

	m := NewAMQPMailer(ch, queue)
	m.closer = func() error {
		chErr := ch.Close()
		connErr := conn.Close()
		return errors.Join(chErr, connErr)
	}
	return m, nil
}

// Send queues msg as a persistent JSON job. A nil error means the broker
// accepted the publish, not that the mail was delivered.
func (m *AMQPMailer) Send(ctx context.Context, msg goIdentity.Message) error {
	job := Job{
		ID:       uuid.NewString(),
		From:     msg.From,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		QueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal job failed: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	err = m.pub.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.QueuedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

func (m *AMQPMailer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.closer != nil {
		return m.closer()
	}
	return nil
}
