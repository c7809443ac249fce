package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for one messaging session.
//
// Reconnection is deliberately not handled here: paho's auto-reconnect is
// off, and the uplink session dials a fresh Client after its backoff. A
// Client is therefore single-use; once the connection drops, every call
// returns ErrNotConnected.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected bool
	connMu    sync.RWMutex

	lostErr error

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho's delivery goroutine and must not block.
// A returned error is logged.
type MessageHandler = func(topic string, payload []byte) error

// Connect dials the broker and publishes the retained online status.
//
// The Last Will marks the device offline on {prefix}/status if the
// connection dies without a clean Close.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	return ConnectContext(context.Background(), cfg)
}

// ConnectContext is Connect bounded by ctx as well as the connect timeout.
func ConnectContext(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	topics := NewTopics(cfg.TopicPrefix)
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	c := &Client{
		cfg:    cfg,
		topics: topics,
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-timeAfter(defaultConnectTimeout):
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	if err := c.Publish(topics.Status(), buildOnlinePayload(cfg.Broker.ClientID), byte(cfg.QoS), true); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("publishing online status: %w", err)
	}

	return c, nil
}

// handleDisconnect is called by paho when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.lostErr = err
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, buildOfflinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// Ping makes one round trip to the broker.
//
// paho has no public PINGREQ, so Ping publishes the client ID at QoS 1 on
// {prefix}/ping and waits for the PUBACK. A half-open TCP connection that
// paho has not noticed yet fails here within pingTimeout instead of at the
// next keepalive.
//
// Returns:
//   - nil if the broker acknowledged the message
//   - ErrNotConnected (wrapping the loss reason, if known) when the
//     connection is already gone
//   - ErrPublishFailed wrapping ErrTimeout when no PUBACK arrives in time
func (c *Client) Ping() error {
	if !c.IsConnected() || !c.client.IsConnectionOpen() {
		c.connMu.RLock()
		lost := c.lostErr
		c.connMu.RUnlock()
		if lost != nil {
			return fmt.Errorf("%w: %w", ErrNotConnected, lost)
		}
		return ErrNotConnected
	}

	token := c.client.Publish(c.topics.Ping(), 1, false, []byte(c.cfg.Broker.ClientID))
	if !token.WaitTimeout(pingTimeout) {
		return fmt.Errorf("%w: ping: %w after %v", ErrPublishFailed, ErrTimeout, pingTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrPublishFailed, err)
	}
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	return c.Ping()
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Topics returns the topic builder for this client's prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetLogger sets a logger for connection loss and handler failures.
// If not set, they are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
