// Package cardwatch polls the reader for cards and phones and hands the
// latest credential to the access loop.
package cardwatch

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/reader/pn532"
)

// AndroidAID is the application identifier registered by the phone app.
var AndroidAID = []byte{0xA0, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04}

// DefaultInterval is the pause between polls.
const DefaultInterval = 250 * time.Millisecond

// Reader is the part of the PN532 driver the watcher uses.
type Reader interface {
	ReadPassiveTarget() ([]byte, error)
	SelectApplication(aid []byte) ([]byte, error)
	PowerDown() error
}

// Logger is the logging interface used by the watcher.
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

// Config configures a Watcher.
type Config struct {
	Interval time.Duration
	AID      []byte
}

// Watcher owns the reader for the lifetime of Run.
type Watcher struct {
	reader  Reader
	mailbox *Mailbox[access.Credential]
	config  Config
	logger  Logger
}

// NewWatcher creates a watcher that publishes into mailbox.
func NewWatcher(reader Reader, mailbox *Mailbox[access.Credential], cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if len(cfg.AID) == 0 {
		cfg.AID = AndroidAID
	}
	return &Watcher{
		reader:  reader,
		mailbox: mailbox,
		config:  cfg,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(l Logger) {
	w.logger = l
}

// Run polls until ctx is cancelled. Reader errors are logged and never end
// the loop; the next poll starts with a fresh wake-up.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		w.poll()

		if err := w.reader.PowerDown(); err != nil {
			w.logger.Warn("reader power down failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.config.Interval):
		}
	}
}

// poll runs one detection. It reports whether a credential was published.
func (w *Watcher) poll() bool {
	uid, err := w.reader.ReadPassiveTarget()
	if err != nil {
		w.logReaderError("passive target detection failed", err)
		return false
	}
	if uid == nil {
		return false
	}

	token, err := w.reader.SelectApplication(w.config.AID)
	if err != nil {
		w.logReaderError("application select failed", err)
	}

	var cred access.Credential
	if len(token) > 0 {
		cred = access.AppToken{Raw: token}
	} else {
		cred = access.Physical{UID: uid}
	}

	w.logger.Info("credential detected",
		"kind", cred.Kind(),
		"uid", hex.EncodeToString(uid),
	)
	w.mailbox.Publish(cred)
	return true
}

func (w *Watcher) logReaderError(msg string, err error) {
	if pn532.IsProtocolError(err) {
		w.logger.Warn(msg, "error", err)
		return
	}
	w.logger.Error(msg, "error", err)
}
