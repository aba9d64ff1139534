package natsutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dragcal/project/internal/messaging"
	"github.com/nats-io/nats.go"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

func ConnectJetStream(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("calendar"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

func ConnectJetStreamWithRetry(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ConnectJetStream(url)
		if err == nil {
			return client, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// Ready reports whether the connection is usable.
func (c *Client) Ready() error {
	if c == nil || c.Conn == nil {
		return errors.New("nats connection is nil")
	}
	if status := c.Conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", status.String())
	}
	return nil
}

type Publisher interface {
	Publish(subject string, payload []byte) error
}

type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) Publish(subject string, payload []byte) error {
	_, err := p.JS.Publish(subject, payload)
	return err
}

// Subscriber delivers raw payloads published on subject.
type Subscriber interface {
	Subscribe(subject string, handler func(payload []byte, seq uint64)) (unsubscribe func() error, err error)
}

// JetStreamSubscriber attaches an ephemeral consumer that only sees messages
// published after it starts.
type JetStreamSubscriber struct {
	JS nats.JetStreamContext
}

func (s JetStreamSubscriber) Subscribe(subject string, handler func([]byte, uint64)) (func() error, error) {
	if s.JS == nil {
		return nil, errors.New("jetstream is not configured")
	}
	sub, err := s.JS.Subscribe(subject, func(msg *nats.Msg) {
		var seq uint64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			seq = meta.Sequence.Stream
		}
		handler(msg.Data, seq)
	}, nats.DeliverNew())
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}
