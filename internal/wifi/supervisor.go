package wifi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the state of a supervised daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// maxHealthFailures is how many consecutive failed health checks kill the
// daemon.
const maxHealthFailures = 3

// SupervisorConfig describes a long-running daemon such as wpa_supplicant.
type SupervisorConfig struct {
	Name   string
	Binary string
	Args   []string

	// RestartDelay is the pause before restarting after an unexpected exit.
	RestartDelay time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck, if set, runs every HealthCheckInterval. Three failures
	// in a row kill the daemon, which then restarts like any other exit.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration
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

// Supervisor runs one daemon and restarts it when it exits unexpectedly.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Supervisor struct {
	config SupervisorConfig
	logger Logger

	mu       sync.RWMutex
	cmd      *exec.Cmd
	status   Status
	restarts int
	lastErr  error
	started  time.Time
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSupervisor creates a supervisor. Zero durations get defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(l Logger) {
	s.logger = l
}

// Start launches the daemon and begins watching it. The daemon is killed
// when ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.config.Name)
	}
	s.status = StatusStarting
	s.stopping = false
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.spawn(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.watch(ctx)
	return nil
}

func (s *Supervisor) spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.config.Binary, s.config.Args...) //nolint:gosec // binary comes from operator config

	// Own process group so Stop can signal any children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.config.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	go s.pipeLines("stdout", stdout)
	go s.pipeLines("stderr", stderr)

	s.logger.Info("daemon started", "name", s.config.Name, "pid", cmd.Process.Pid)
	return nil
}

func (s *Supervisor) pipeLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("daemon output",
			"name", s.config.Name,
			"stream", stream,
			"line", sc.Text(),
		)
	}
}

// watch waits for each exit and restarts until stopped or out of attempts.
func (s *Supervisor) watch(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := s.wait(ctx, cmd)

		s.mu.Lock()
		if s.stopping || ctx.Err() != nil {
			s.status = StatusStopped
			s.mu.Unlock()
			s.logger.Info("daemon stopped", "name", s.config.Name)
			return
		}
		s.status = StatusFailed
		s.lastErr = err
		attempt := s.restarts + 1
		s.mu.Unlock()

		s.logger.Warn("daemon exited unexpectedly", "name", s.config.Name, "error", err)

		if s.config.MaxRestartAttempts > 0 && attempt > s.config.MaxRestartAttempts {
			s.logger.Error("daemon restart limit reached",
				"name", s.config.Name,
				"attempts", s.config.MaxRestartAttempts,
			)
			return
		}

		s.logger.Info("restarting daemon",
			"name", s.config.Name,
			"attempt", attempt,
			"delay", s.config.RestartDelay,
		)
		if !s.pause(ctx) {
			return
		}
		s.mu.Lock()
		s.restarts = attempt
		s.mu.Unlock()
		for s.spawn(ctx) != nil {
			s.logger.Error("daemon restart failed", "name", s.config.Name)
			if !s.pause(ctx) {
				return
			}
		}
	}
}

// pause sleeps for RestartDelay. It reports false, with the status set to
// stopped, if Stop was called or ctx ended first.
func (s *Supervisor) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
	case <-s.stop:
	case <-time.After(s.config.RestartDelay):
		return true
	}
	s.setStatus(StatusStopped)
	return false
}

// wait returns when the daemon exits or is killed after failing its
// health check.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if s.config.HealthCheck == nil {
		return <-exited
	}

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.config.HealthCheck(checkCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}

			failures++
			s.logger.Warn("daemon health check failed",
				"name", s.config.Name,
				"error", err,
				"consecutive_failures", failures,
			)
			if failures < maxHealthFailures {
				continue
			}

			_ = cmd.Process.Kill()
			<-exited
			return fmt.Errorf("%w after %d checks: %w", ErrUnhealthy, failures, err)
		}
	}
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Stop sends SIGTERM to the daemon's process group, escalating to SIGKILL
// after GracefulTimeout. It is a no-op when nothing is running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.status == StatusStopped || s.done == nil {
		s.mu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		close(s.stop)
	}
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("signalling daemon", "name", s.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.config.GracefulTimeout):
		s.logger.Warn("daemon ignored SIGTERM, killing", "name", s.config.Name)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", s.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the daemon state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastError returns the error from the most recent unexpected exit.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// IsRunning reports whether the daemon is up.
func (s *Supervisor) IsRunning() bool {
	return s.Status() == StatusRunning
}

// Stats is a snapshot of the supervised daemon.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot for logging and health reporting.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:         s.config.Name,
		Status:       s.status,
		RestartCount: s.restarts,
	}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.started)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
