package wifi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

const (
	// DefaultSysfsRoot is where interface operstate files live.
	DefaultSysfsRoot = "/sys/class/net"

	ctrlInterface = "/var/run/wpa_supplicant"
	stateComplete = "COMPLETED"
	maxSSIDLength = 32
)

// Runner runs a short-lived command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output() //nolint:gosec // tool paths come from operator config
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Link is a station-mode interface.
//
// When the supplicant is managed, Associate writes a single-network
// wpa_supplicant config and runs the daemon under a Supervisor; status
// comes from wpa_cli. Otherwise association is left to the host and
// status comes from the kernel operstate.
type Link struct {
	cfg        config.WiFiConfig
	run        Runner
	sysfs      string
	supervisor *Supervisor
	logger     Logger
}

// NewLink creates a link for cfg.Interface.
func NewLink(cfg config.WiFiConfig) *Link {
	l := &Link{
		cfg:    cfg,
		run:    execRunner,
		sysfs:  DefaultSysfsRoot,
		logger: noopLogger{},
	}
	if cfg.Supplicant.Managed {
		l.supervisor = NewSupervisor(SupervisorConfig{
			Name:   "wpa_supplicant",
			Binary: cfg.Supplicant.Binary,
			Args: []string{
				"-i", cfg.Interface,
				"-c", cfg.Supplicant.ConfigFile,
				"-D", "nl80211,wext",
			},
			RestartDelay:       cfg.Supplicant.RestartDelay,
			MaxRestartAttempts: cfg.Supplicant.MaxRestartAttempts,
			HealthCheck:        l.Ping,
		})
	}
	return l
}

// SetLogger sets the logger for the link and its supervisor.
func (l *Link) SetLogger(lg Logger) {
	l.logger = lg
	if l.supervisor != nil {
		l.supervisor.SetLogger(lg)
	}
}

// Up brings the interface up.
func (l *Link) Up(ctx context.Context) error {
	if _, err := l.run(ctx, "ip", "link", "set", "dev", l.cfg.Interface, "up"); err != nil {
		return fmt.Errorf("bringing %s up: %w", l.cfg.Interface, err)
	}
	return nil
}

// Associate joins the network in creds. With an unmanaged supplicant it
// only logs.
func (l *Link) Associate(ctx context.Context, creds config.WiFiCredentials) error {
	if l.supervisor == nil {
		l.logger.Info("association left to host", "interface", l.cfg.Interface)
		return nil
	}

	conf, err := RenderSupplicantConfig(creds)
	if err != nil {
		return err
	}
	path := l.cfg.Supplicant.ConfigFile
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating supplicant config dir: %w", err)
	}
	if err := os.WriteFile(path, conf, 0o600); err != nil {
		return fmt.Errorf("writing supplicant config: %w", err)
	}

	if l.supervisor.IsRunning() {
		if _, err := l.run(ctx, l.cfg.Supplicant.Cli, "-i", l.cfg.Interface, "reconfigure"); err != nil {
			return fmt.Errorf("reloading supplicant: %w", err)
		}
		return nil
	}
	return l.supervisor.Start(ctx)
}

// Connected reports whether the interface has a network.
func (l *Link) Connected(ctx context.Context) (bool, error) {
	if l.supervisor == nil {
		state, err := os.ReadFile(filepath.Join(l.sysfs, l.cfg.Interface, "operstate"))
		if err != nil {
			return false, fmt.Errorf("reading operstate: %w", err)
		}
		return strings.TrimSpace(string(state)) == "up", nil
	}

	out, err := l.run(ctx, l.cfg.Supplicant.Cli, "-i", l.cfg.Interface, "status")
	if err != nil {
		return false, err
	}
	return parseStatus(out)["wpa_state"] == stateComplete, nil
}

// Ping checks that the supplicant control interface answers.
func (l *Link) Ping(ctx context.Context) error {
	out, err := l.run(ctx, l.cfg.Supplicant.Cli, "-i", l.cfg.Interface, "ping")
	if err != nil {
		return err
	}
	if !bytes.Contains(out, []byte("PONG")) {
		return ErrNoPong
	}
	return nil
}

// Stats describes the managed supplicant. ok is false when unmanaged.
func (l *Link) Stats() (stats Stats, ok bool) {
	if l.supervisor == nil {
		return Stats{}, false
	}
	return l.supervisor.Stats(), true
}

// Close stops a managed supplicant.
func (l *Link) Close() error {
	if l.supervisor == nil {
		return nil
	}
	return l.supervisor.Stop()
}

// parseStatus reads key=value lines from wpa_cli status.
func parseStatus(out []byte) map[string]string {
	fields := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if ok {
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return fields
}

// RenderSupplicantConfig builds a wpa_supplicant config for one network.
// An empty key selects an open network; a 64-digit hex key is used as a
// raw PSK.
func RenderSupplicantConfig(creds config.WiFiCredentials) ([]byte, error) {
	if creds.SSID == "" || len(creds.SSID) > maxSSIDLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSSID, len(creds.SSID))
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "ctrl_interface=%s\n", ctrlInterface)
	b.WriteString("update_config=0\n\n")
	b.WriteString("network={\n")

	if printable(creds.SSID) {
		fmt.Fprintf(&b, "\tssid=%q\n", creds.SSID)
	} else {
		fmt.Fprintf(&b, "\tssid=%s\n", hex.EncodeToString([]byte(creds.SSID)))
	}
	b.WriteString("\tscan_ssid=1\n")

	switch key := creds.Key; {
	case key == "":
		b.WriteString("\tkey_mgmt=NONE\n")
	case len(key) == 64 && isHex(key):
		fmt.Fprintf(&b, "\tpsk=%s\n", key)
	case len(key) >= 8 && len(key) <= 63 && printable(key):
		fmt.Fprintf(&b, "\tpsk=\"%s\"\n", key)
	default:
		return nil, fmt.Errorf("%w: passphrase must be 8-63 printable characters", ErrInvalidKey)
	}

	b.WriteString("}\n")
	return b.Bytes(), nil
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == '"' || s[i] == '\\' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
