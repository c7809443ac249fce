package uplink

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

// DefaultPollInterval is the connectivity poll period.
const DefaultPollInterval = 500 * time.Millisecond

// Link is a station-mode network interface.
type Link interface {
	// Up activates the interface.
	Up(ctx context.Context) error

	// Associate starts joining the named network. It does not wait for the
	// association to complete.
	Associate(ctx context.Context, creds config.WiFiCredentials) error

	// Connected reports whether the link currently has a network.
	Connected(ctx context.Context) (bool, error)
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	CredentialsFile string
	PollInterval    time.Duration
}

// Monitor brings the link up and tracks its connectivity.
type Monitor struct {
	link   Link
	config MonitorConfig
	logger Logger

	connected atomic.Bool
}

// NewMonitor creates a monitor for link.
func NewMonitor(link Link, cfg MonitorConfig) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Monitor{
		link:   link,
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(l Logger) {
	m.logger = l
}

// Connected reports the last observed link state.
func (m *Monitor) Connected() bool {
	return m.connected.Load()
}

// Run activates the link, starts association and then polls until ctx is
// cancelled. Setup failures are logged; polling continues regardless so
// that a link configured by the host is still reported.
func (m *Monitor) Run(ctx context.Context) error {
	m.start(ctx)

	for {
		m.poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.config.PollInterval):
		}
	}
}

func (m *Monitor) start(ctx context.Context) {
	if err := m.link.Up(ctx); err != nil {
		m.logger.Error("activating network interface", "error", err)
	}

	creds, err := config.LoadWiFiCredentials(m.config.CredentialsFile)
	if err != nil {
		m.logger.Error("loading wifi credentials", "error", err)
		return
	}

	connected, err := m.link.Connected(ctx)
	if err == nil && connected {
		return
	}

	m.logger.Info("connecting to network", "ssid", creds.SSID)
	if err := m.link.Associate(ctx, creds); err != nil {
		m.logger.Error("associating with network", "ssid", creds.SSID, "error", err)
	}
}

// poll logs connected and disconnected edges.
func (m *Monitor) poll(ctx context.Context) {
	up, err := m.link.Connected(ctx)
	if err != nil {
		m.logger.Debug("link status unavailable", "error", err)
		up = false
	}

	was := m.connected.Swap(up)
	switch {
	case up && !was:
		m.logger.Info("network connected")
	case !up && was:
		m.logger.Warn("network disconnected")
	}
}

// HardwareAddr returns the MAC address of the named interface as
// lowercase hex without separators.
func HardwareAddr(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("looking up interface %s: %w", name, err)
	}
	if len(iface.HardwareAddr) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoHardwareAddr, name)
	}
	return hex.EncodeToString(iface.HardwareAddr), nil
}
