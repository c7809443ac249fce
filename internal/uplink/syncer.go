package uplink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/events"
)

// Syncer defaults.
const (
	DefaultSyncURL   = "http://10.11.1.1:8000/hashes/internal"
	DefaultChunkSize = 512
	DefaultTimeout   = 30 * time.Second
)

// Sync event payloads.
var (
	syncSuccess = []byte("success")
	syncFail    = []byte("fail")
)

// EventSink receives the sync outcome. *events.Queue satisfies it.
type EventSink interface {
	Push(name string, payload []byte) bool
}

// SyncerConfig configures a Syncer.
type SyncerConfig struct {
	URL       string
	ChunkSize int
	Timeout   time.Duration
}

// Syncer replaces the authorization table with a fresh download.
//
// The live table is only ever replaced by renaming a fully written and
// flushed temporary file in the same directory. A failed or interrupted
// download leaves the live table untouched.
type Syncer struct {
	client    *http.Client
	config    SyncerConfig
	tablePath string
	events    EventSink
	logger    Logger
}

// NewSyncer creates a syncer writing to tablePath.
func NewSyncer(cfg SyncerConfig, tablePath string, sink EventSink) *Syncer {
	if cfg.URL == "" {
		cfg.URL = DefaultSyncURL
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Syncer{
		client:    &http.Client{},
		config:    cfg,
		tablePath: tablePath,
		events:    sink,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the syncer.
func (s *Syncer) SetLogger(l Logger) {
	s.logger = l
}

// Sync downloads the table and emits a sync event with the result.
//
// The body goes to a temporary file beside the live table in ChunkSize
// pieces. Only after a 2xx response has been read to the end and synced to
// disk is the file renamed over the table, so a reader of the table sees
// either the old contents or the new, never a mix.
//
// Returns:
//   - nil after the table was replaced; "sync"/"success" is queued
//   - ErrSyncStatus for a non-2xx answer, ErrShortBody when the body is
//     shorter than Content-Length, or the transport or file error;
//     "sync"/"fail" is queued and the old table is untouched
func (s *Syncer) Sync(ctx context.Context) error {
	start := time.Now()
	n, err := s.fetch(ctx)

	payload := syncSuccess
	if err != nil {
		payload = syncFail
	} else {
		s.logger.Info("authorization table replaced",
			"bytes", n,
			"duration", time.Since(start),
		)
	}
	if s.events != nil {
		s.events.Push(events.NameSync, payload)
	}
	return err
}

func (s *Syncer) fetch(ctx context.Context) (written int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("building sync request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("requesting table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: %s", ErrSyncStatus, resp.Status)
	}

	dir := filepath.Dir(s.tablePath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.tablePath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp table: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			tmp.Close()
		}
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("removing temp table", "path", tmpName, "error", rmErr)
		}
	}()

	written, err = copyChunks(tmp, resp.Body, s.config.ChunkSize)
	if err != nil {
		return written, fmt.Errorf("downloading table: %w", err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return written, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, written, resp.ContentLength)
	}

	if err = tmp.Sync(); err != nil {
		return written, fmt.Errorf("flushing temp table: %w", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return written, fmt.Errorf("closing temp table: %w", err)
	}
	if err = os.Rename(tmpName, s.tablePath); err != nil {
		return written, fmt.Errorf("installing table: %w", err)
	}

	if dirErr := syncDir(dir); dirErr != nil {
		s.logger.Debug("flushing table directory", "error", dirErr)
	}
	return written, nil
}

// copyChunks copies src to dst through a buffer of size bytes.
func copyChunks(dst io.Writer, src io.Reader, size int) (int64, error) {
	buf := make([]byte, size)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
			if w != n {
				return total, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// syncDir makes the rename durable on filesystems that need it.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
