package wifi

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitStatus(t *testing.T, s *Supervisor, cond func(Stats) bool) Stats {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st := s.Stats(); cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out; last stats %+v", s.Stats())
	return Stats{}
}

func TestNewSupervisor_Defaults(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Name: "wpa_supplicant", Binary: "/usr/sbin/wpa_supplicant"})

	if s.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", s.config.RestartDelay, 5*time.Second)
	}
	if s.config.GracefulTimeout != 5*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", s.config.GracefulTimeout, 5*time.Second)
	}
	if s.config.HealthCheckInterval != 30*time.Second {
		t.Errorf("HealthCheckInterval = %v, want %v", s.config.HealthCheckInterval, 30*time.Second)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusStopped)
	}
}

func TestSupervisor_StopWhenNotRunning(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Name: "idle", Binary: "/bin/true"})
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
}

func TestSupervisor_StartAndStop(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if st := s.Stats(); st.PID == 0 {
		t.Error("Stats().PID = 0 after Start()")
	}

	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q after Stop(), want %q", s.Status(), StatusStopped)
	}
	if s.Stats().RestartCount != 0 {
		t.Errorf("RestartCount = %d, want 0", s.Stats().RestartCount)
	}
}

func TestSupervisor_StartWithInvalidBinary(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Name: "missing", Binary: "/nonexistent/wpa_supplicant"})

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want error")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusFailed)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() after failed start error = %v", err)
	}
}

func TestSupervisor_RestartLimit(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{
		Name:               "crasher",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 3"},
		RestartDelay:       10 * time.Millisecond,
		MaxRestartAttempts: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	<-s.done
	st := s.Stats()
	if st.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", st.Status, StatusFailed)
	}
	if st.RestartCount != 2 {
		t.Errorf("RestartCount = %d, want 2", st.RestartCount)
	}
	if s.LastError() == nil {
		t.Error("LastError() = nil after crashes")
	}
}

func TestSupervisor_KillsUnhealthyDaemon(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{
		Name:                "hung",
		Binary:              "/bin/sleep",
		Args:                []string{"60"},
		RestartDelay:        10 * time.Millisecond,
		GracefulTimeout:     time.Second,
		HealthCheck:         func(context.Context) error { return ErrNoPong },
		HealthCheckInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitStatus(t, s, func(st Stats) bool { return st.RestartCount >= 1 })
	if err := s.LastError(); !errors.Is(err, ErrUnhealthy) || !errors.Is(err, ErrNoPong) {
		t.Errorf("LastError() = %v, want ErrUnhealthy wrapping ErrNoPong", err)
	}
}

func TestSupervisor_ContextCancelStops(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Name: "sleeper", Binary: "/bin/sleep", Args: []string{"60"}})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	select {
	case <-s.done:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not exit after cancel")
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusStopped)
	}
}
