package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/events"
)

// Defaults for cycle timing.
const (
	DefaultTimeoutPause = 500 * time.Millisecond
	DefaultHold         = 2 * time.Second
	DefaultDwell        = 2 * time.Second
)

// Credentials yields detected credentials. *cardwatch.Mailbox satisfies it.
type Credentials interface {
	Wait(ctx context.Context) (access.Credential, error)
	Clear()
}

// Keypad is the PIN pad as seen by the cycle.
type Keypad interface {
	Reset() error
	CollectPIN(ctx context.Context) ([]byte, error)
	SignalGranted() error
	SignalDenied() error
}

// Door is the lock actuator.
type Door interface {
	Lock() error
	Unlock() error
}

// Authorizer checks a digest against the authorization table.
type Authorizer interface {
	IsAuthorized(digest string) (bool, error)
}

// EventSink receives telemetry for the uplink.
type EventSink interface {
	Push(name string, payload []byte) bool
}

// Attempt summarises one finished cycle for recorders.
type Attempt struct {
	Outcome    Outcome
	Credential string // credential kind
	Digest     string // empty on the timeout path
	Duration   time.Duration
	Time       time.Time
}

// Recorder persists or exports attempts (journal, metrics).
type Recorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// Logger is the logging interface used by the orchestrator.
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

// Config holds cycle timing.
type Config struct {
	// TimeoutPause is the pause between the denial signal and the keypad
	// reset on the PIN timeout path.
	TimeoutPause time.Duration

	// Hold is how long a successful grant or deny indication (and an
	// unlocked door) is held before Settle.
	Hold time.Duration

	// Dwell is the pause after Settle has locked and reset, on every exit
	// from Decide, before the next credential is taken.
	Dwell time.Duration
}

// Deps are the collaborators of one orchestrator. All are required except
// Recorders.
type Deps struct {
	Credentials Credentials
	Keypad      Keypad
	Door        Door
	Table       Authorizer
	Events      EventSink
	Recorders   []Recorder
}

// Orchestrator drives authorization cycles one at a time.
type Orchestrator struct {
	deps   Deps
	config Config
	logger Logger
	state  atomic.Int32
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.TimeoutPause <= 0 {
		cfg.TimeoutPause = DefaultTimeoutPause
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	if cfg.Dwell <= 0 {
		cfg.Dwell = DefaultDwell
	}
	return &Orchestrator{
		deps:   deps,
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(l Logger) {
	o.logger = l
}

// State returns the current position in the cycle.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Run executes cycles until ctx is cancelled. Cycle failures are logged and
// never end the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		outcome, err := o.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			o.logger.Error("access cycle failed", "outcome", outcome, "error", err)
		}
	}
}

// RunCycle runs a single cycle, starting from WaitCredential. It returns
// the context error only if ctx ends while waiting for a credential.
func (o *Orchestrator) RunCycle(ctx context.Context) (Outcome, error) {
	o.setState(WaitCredential)

	cred, err := o.deps.Credentials.Wait(ctx)
	if err != nil {
		return 0, err
	}
	started := time.Now()
	o.logger.Info("credential presented", "kind", cred.Kind(), "credential", fmt.Sprint(cred))

	outcome, digest, err := o.authorize(ctx, cred)
	o.setState(WaitCredential)

	// Cards held against the reader during the cycle must not start a new one.
	o.deps.Credentials.Clear()

	o.record(ctx, Attempt{
		Outcome:    outcome,
		Credential: cred.Kind(),
		Digest:     digest,
		Duration:   time.Since(started),
		Time:       started,
	})

	return outcome, err
}

func (o *Orchestrator) authorize(ctx context.Context, cred access.Credential) (Outcome, string, error) {
	o.setState(WaitPin)

	if err := o.deps.Keypad.Reset(); err != nil {
		return ProtocolFailure, "", fmt.Errorf("resetting keypad: %w", err)
	}
	pin, err := o.deps.Keypad.CollectPIN(ctx)
	if err != nil {
		o.abandon()
		return ProtocolFailure, "", fmt.Errorf("collecting PIN: %w", err)
	}
	if err := o.deps.Keypad.Reset(); err != nil {
		o.logger.Warn("keypad reset after PIN entry failed", "error", err)
	}

	if len(pin) < access.PINLength {
		o.logger.Info("PIN entry timed out", "digits", len(pin))
		return Timeout, "", o.timeoutPath(ctx)
	}

	o.setState(Decide)
	digest, err := access.Hash(cred, pin)
	if err != nil {
		o.abandon()
		return ProtocolFailure, "", err
	}

	granted, err := o.deps.Table.IsAuthorized(digest)
	if err != nil {
		if errors.Is(err, access.ErrNoTable) {
			o.logger.Warn("no authorization table, denying", "digest", digest)
		} else {
			o.logger.Error("authorization table unreadable, denying", "error", err)
		}
		granted = false
	}

	if !o.deps.Events.Push(events.NameHash, []byte(digest)) {
		o.logger.Warn("event queue full, oldest event dropped")
	}

	outcome, err := o.actuate(ctx, granted)
	return outcome, digest, err
}

// timeoutPath signals denial, pauses, and resets. No digest, no event.
func (o *Orchestrator) timeoutPath(ctx context.Context) error {
	o.setState(Deny)

	var errs []error
	if err := o.deps.Keypad.SignalDenied(); err != nil {
		errs = append(errs, fmt.Errorf("signalling denial: %w", err))
	}
	sleep(ctx, o.config.TimeoutPause)
	if err := o.deps.Keypad.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("resetting keypad: %w", err))
	}
	return errors.Join(errs...)
}

// actuate runs Grant or Deny under a deferred Settle. Failed signalling
// skips the hold but never the settle dwell.
func (o *Orchestrator) actuate(ctx context.Context, granted bool) (outcome Outcome, err error) {
	defer o.settle(ctx)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic during actuation", "panic", r)
			outcome = ProtocolFailure
			err = fmt.Errorf("panic during actuation: %v", r)
		}
	}()

	if granted {
		o.setState(Grant)
		o.logger.Info("access granted")

		if err := o.deps.Keypad.SignalGranted(); err != nil {
			return ProtocolFailure, fmt.Errorf("signalling grant: %w", err)
		}
		if err := o.deps.Door.Unlock(); err != nil {
			return ProtocolFailure, fmt.Errorf("unlocking door: %w", err)
		}
		outcome = Granted
	} else {
		o.setState(Deny)
		o.logger.Info("access denied")

		if err := o.deps.Keypad.SignalDenied(); err != nil {
			o.logger.Warn("signalling denial failed", "error", err)
		}
		outcome = Denied
	}

	sleep(ctx, o.config.Hold)
	return outcome, nil
}

// settle locks the door, resets the keypad, then dwells. Failures are
// logged; there is nothing else to fall back on.
func (o *Orchestrator) settle(ctx context.Context) {
	o.setState(Settle)

	if err := o.deps.Door.Lock(); err != nil {
		o.logger.Error("locking door failed", "error", err)
	}
	if err := o.deps.Keypad.Reset(); err != nil {
		o.logger.Warn("keypad reset failed", "error", err)
	}
	sleep(ctx, o.config.Dwell)
}

// abandon leaves the keypad in a known state after a failed exchange.
func (o *Orchestrator) abandon() {
	if err := o.deps.Keypad.SignalDenied(); err != nil {
		o.logger.Debug("signalling denial after failure", "error", err)
	}
	if err := o.deps.Keypad.Reset(); err != nil {
		o.logger.Debug("resetting keypad after failure", "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, a Attempt) {
	for _, r := range o.deps.Recorders {
		if err := r.RecordAttempt(ctx, a); err != nil {
			o.logger.Warn("recording access attempt failed", "outcome", a.Outcome, "error", err)
		}
	}
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
