package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// LedgerHandler processes consumed ledger messages. A returned error requeues
// the delivery.
type LedgerHandler interface {
	HandleLedgerSync(ctx context.Context, msg LedgerSyncMessage) error
	HandleLedgerRemove(ctx context.Context, msg LedgerRemoveMessage) error
}

// Client publishes and consumes ledger messages over a direct exchange with a
// single durable queue. Lost connections are re-dialed on demand; a circuit
// breaker keeps a dead broker from stalling every mutation behind a dial
// timeout.
type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	failMu       sync.Mutex
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil {
		return nil
	}
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func setup(channel *amqp091.Channel, exchangeName, queueName string) error {
	err := channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key matches the queue name on the direct exchange.
	err = channel.QueueBind(queueName, queueName, exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishLedgerSync publishes an export request for one expense.
func (c *Client) PublishLedgerSync(ctx context.Context, msg LedgerSyncMessage) error {
	msg.Op = OpSync
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "published ledger sync message",
		"expense_id", msg.ExpenseID,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// PublishLedgerRemove publishes a removal request for one exported line.
func (c *Client) PublishLedgerRemove(ctx context.Context, msg LedgerRemoveMessage) error {
	msg.Op = OpRemove
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "published ledger remove message",
		"expense_id", msg.ExpenseID,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

func (c *Client) publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, refusing to publish")
	}
	if err := c.ensureConnected(); err != nil {
		c.recordFailure()
		return err
	}

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := channel.PublishWithContext(
		pctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// Consume delivers queued ledger messages to the handler until the context
// ends. A lost connection is re-dialed with exponential backoff.
func (c *Client) Consume(ctx context.Context, handler LedgerHandler) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.openDeliveries()
		if err != nil {
			slog.WarnContext(ctx, "consume connect failed, backing off",
				"attempt", attempt, "error", err)
			if err := sleepContext(ctx, exponentialBackoff(attempt)); err != nil {
				return err
			}
			attempt++
			continue
		}
		attempt = 0
		slog.InfoContext(ctx, "started consuming ledger messages", "queue", c.queueName)

		if err := c.handleDeliveries(ctx, deliveries, handler); err != nil {
			return err
		}

		// The delivery channel closed underneath us. Drop the connection
		// and dial again.
		c.dropConnection()
	}
}

func (c *Client) openDeliveries() (<-chan amqp091.Delivery, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	deliveries, err := channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	return deliveries, nil
}

func (c *Client) handleDeliveries(ctx context.Context, deliveries <-chan amqp091.Delivery, handler LedgerHandler) error {
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.dispatch(ctx, delivery, handler)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, delivery amqp091.Delivery, handler LedgerHandler) {
	op, err := messageOp(delivery.Body)
	if err != nil {
		slog.ErrorContext(ctx, "failed to decode ledger message", "error", err)
		delivery.Nack(false, false)
		return
	}

	var handleErr error
	switch op {
	case OpSync:
		var msg LedgerSyncMessage
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			slog.ErrorContext(ctx, "failed to decode sync message", "error", err)
			delivery.Nack(false, false)
			return
		}
		handleErr = handler.HandleLedgerSync(ctx, msg)
	case OpRemove:
		var msg LedgerRemoveMessage
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			slog.ErrorContext(ctx, "failed to decode remove message", "error", err)
			delivery.Nack(false, false)
			return
		}
		handleErr = handler.HandleLedgerRemove(ctx, msg)
	default:
		slog.ErrorContext(ctx, "unknown ledger message op", "op", op)
		delivery.Nack(false, false)
		return
	}

	if handleErr != nil {
		slog.ErrorContext(ctx, "failed to handle ledger message",
			"op", op, "error", handleErr)
		delivery.Nack(false, true)
		return
	}
	delivery.Ack(false)
}

func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}

	c.failMu.Lock()
	last := c.lastFailure
	c.failMu.Unlock()

	if time.Since(last) > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	count := atomic.AddInt64(&c.failureCount, 1)

	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()

	if count >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff doubles from one second per attempt, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// isConnectionError reports whether the error looks like a broken broker
// connection rather than a protocol or application failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, fragment := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
