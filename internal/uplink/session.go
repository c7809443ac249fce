package uplink

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// Session defaults.
const (
	DefaultRetryDelay = 6 * time.Second
	DefaultTick       = 250 * time.Millisecond
	DefaultPingEvery  = 10

	// CommandSync asks the controller to refresh its authorization table.
	CommandSync = "sync"

	commandBuffer = 8
)

// Broker is one connected messaging session. *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	Ping() error
	Close() error
}

// Dialer opens a new Broker session. Each session attempt dials once.
type Dialer func(ctx context.Context) (Broker, error)

// Outbox is the event queue drained by the session. *events.Queue
// satisfies it.
type Outbox interface {
	Pop() (events.Event, bool)
	Requeue(ev events.Event) bool
}

// TableSyncer refreshes the authorization table.
type TableSyncer interface {
	Sync(ctx context.Context) error
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SessionConfig configures a Session.
type SessionConfig struct {
	Topics mqtt.Topics
	QoS    byte

	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration

	// Tick is the inner loop period.
	Tick time.Duration

	// PingEvery is how many ticks pass between keepalive checks.
	PingEvery int

	// HardwareAddr is announced on the mac topic after each connect.
	HardwareAddr string
}

// Session supervises the messaging connection.
type Session struct {
	dial   Dialer
	outbox Outbox
	syncer TableSyncer
	config SessionConfig
	logger Logger

	connected atomic.Bool
	attempts  atomic.Uint64
}

// NewSession creates a session. syncer may be nil, in which case sync
// commands are logged and ignored.
func NewSession(dial Dialer, outbox Outbox, syncer TableSyncer, cfg SessionConfig) *Session {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.PingEvery <= 0 {
		cfg.PingEvery = DefaultPingEvery
	}
	if cfg.Topics == (mqtt.Topics{}) {
		cfg.Topics = mqtt.NewTopics("")
	}
	return &Session{
		dial:   dial,
		outbox: outbox,
		syncer: syncer,
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(l Logger) {
	s.logger = l
}

// Connected reports whether an attempt is currently established.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Attempts returns how many session attempts have started.
func (s *Session) Attempts() uint64 {
	return s.attempts.Load()
}

// Run keeps a session open until ctx is cancelled.
//
// Each attempt dials once, announces the hardware address, subscribes to
// the command topic and then ticks: drain the outbox, ping every
// PingEvery ticks, run received commands. The first error (or panic) ends
// the attempt. Run then waits RetryDelay and dials again, with no limit on
// attempts, because the lock must recover from outages of any length.
//
// Events that fail to publish are requeued at the head of the outbox, so
// nothing is lost to a dropped connection beyond queue overflow.
//
// Run returns nil when ctx is cancelled; it never returns an error.
//
// Example:
//
//	g.Go(func() error { return session.Run(ctx) })
func (s *Session) Run(ctx context.Context) error {
	for {
		s.attempts.Add(1)
		err := s.attempt(ctx)
		s.connected.Store(false)

		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("messaging session ended",
			"error", err,
			"retry_in", s.config.RetryDelay,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.config.RetryDelay):
		}
	}
}

// attempt runs one session from dial to failure.
func (s *Session) attempt(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSessionPanic, r)
		}
	}()

	broker, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	defer func() {
		if cerr := broker.Close(); cerr != nil {
			s.logger.Debug("closing broker session", "error", cerr)
		}
	}()

	topics := s.config.Topics
	if err := broker.Publish(topics.MAC(), []byte(s.config.HardwareAddr), s.config.QoS, false); err != nil {
		return fmt.Errorf("announcing hardware address: %w", err)
	}

	commands := make(chan string, commandBuffer)
	err = broker.Subscribe(topics.Command(), s.config.QoS, func(_ string, payload []byte) error {
		select {
		case commands <- strings.TrimSpace(string(payload)):
			return nil
		default:
			return ErrCommandBacklog
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	s.connected.Store(true)
	s.logger.Info("messaging session established", "prefix", topics.Prefix())

	for tick := 1; ; tick++ {
		if err := s.drain(broker); err != nil {
			return err
		}

		if tick%s.config.PingEvery == 0 {
			if err := broker.Ping(); err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}
		}

		s.pollCommands(ctx, commands)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.Tick):
		}
	}
}

// drain publishes queued events oldest first. An event that fails to
// publish goes back to the head of the queue.
func (s *Session) drain(broker Broker) error {
	for {
		ev, ok := s.outbox.Pop()
		if !ok {
			return nil
		}

		err := broker.Publish(s.config.Topics.Event(ev.Name), ev.Payload, s.config.QoS, false)
		if err != nil {
			if !s.outbox.Requeue(ev) {
				s.logger.Warn("event dropped after publish failure", "event", ev.Name)
			}
			return fmt.Errorf("publishing %s event: %w", ev.Name, err)
		}
		s.logger.Debug("event published", "event", ev.Name)
	}
}

func (s *Session) pollCommands(ctx context.Context, commands <-chan string) {
	for {
		select {
		case cmd := <-commands:
			s.handleCommand(ctx, cmd)
		default:
			return
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd string) {
	switch cmd {
	case CommandSync:
		if s.syncer == nil {
			s.logger.Warn("sync requested but no syncer configured")
			return
		}
		if err := s.syncer.Sync(ctx); err != nil {
			s.logger.Error("table sync failed", "error", err)
			return
		}
		s.logger.Info("table sync complete")
	default:
		s.logger.Warn("unrecognised command", "command", cmd)
	}
}
