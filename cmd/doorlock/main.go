// Package main is the entry point for the door access controller.
//
// The controller reads cards and phones through a PN532, collects a PIN
// from the serial keypad, checks the salted digest against the local
// authorization table and drives the lock. The MQTT uplink, table sync,
// access journal, metrics and the maintenance API run alongside but never
// gate the door.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/api"
	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/cardwatch"
	"github.com/nerrad567/gray-logic-access/internal/door"
	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/serialport"
	"github.com/nerrad567/gray-logic-access/internal/keypad"
	"github.com/nerrad567/gray-logic-access/internal/orchestrator"
	"github.com/nerrad567/gray-logic-access/internal/reader/pn532"
	"github.com/nerrad567/gray-logic-access/internal/uplink"
	"github.com/nerrad567/gray-logic-access/internal/wifi"
	"github.com/nerrad567/gray-logic-access/migrations"
)

// Version information (set at build time via ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// uplinkReportInterval is how often the uplink state is written to InfluxDB.
const uplinkReportInterval = time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the controller together and blocks until ctx is cancelled or
// a task fails.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting door controller",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log = logging.New(cfg.Logging, version, cfg.Device.ID)
	log.Info("configuration loaded",
		"device", cfg.Device.ID,
		"name", cfg.Device.Name,
	)

	aid, err := parseAID(cfg.Reader.AID)
	if err != nil {
		return err
	}

	// Reader
	readerPort, err := serialport.Open(cfg.Reader.Port, cfg.Reader.Baud, cfg.Reader.ReadTimeout)
	if err != nil {
		return fmt.Errorf("opening reader port: %w", err)
	}
	defer closeWithLog(log, "reader port", readerPort.Close)

	reader := pn532.New(pn532.Config{ReadTimeout: cfg.Reader.ReadTimeout}, readerPort)
	fw, err := reader.FirmwareVersion()
	if err != nil {
		return fmt.Errorf("reader not responding: %w", err)
	}
	log.Info("reader found",
		"chip", fw.String(),
		"ic", fmt.Sprintf("0x%02x", fw.IC),
		"version", fw.Version,
		"revision", fw.Revision,
	)
	if err := reader.Configure(); err != nil {
		return fmt.Errorf("configuring reader: %w", err)
	}

	// Keypad
	keypadPort, err := serialport.Open(cfg.Keypad.Port, cfg.Keypad.Baud, cfg.Keypad.PollInterval)
	if err != nil {
		return fmt.Errorf("opening keypad port: %w", err)
	}
	defer closeWithLog(log, "keypad port", keypadPort.Close)

	kp := keypad.New(keypadPort, keypad.Config{
		PINTimeout:   cfg.Keypad.PINTimeout,
		PollInterval: cfg.Keypad.PollInterval,
	})
	if err := kp.Reset(); err != nil {
		log.Warn("keypad reset failed", "error", err)
	}

	// Lock
	lock, err := door.Open(cfg.Door.Pin, cfg.Door.ActiveLow)
	if err != nil {
		return fmt.Errorf("opening door actuator: %w", err)
	}
	defer func() {
		if lockErr := lock.Lock(); lockErr != nil {
			log.Error("error locking door on shutdown", "error", lockErr)
		}
	}()
	log.Info("door locked", "pin", cfg.Door.Pin, "active_low", cfg.Door.ActiveLow)

	table := access.NewTable(cfg.Access.TablePath)
	if n, countErr := table.Count(); countErr != nil {
		log.Warn("authorization table unavailable, all attempts will be denied",
			"path", table.Path(), "error", countErr)
	} else {
		log.Info("authorization table loaded", "path", table.Path(), "entries", n)
	}

	queue := events.New(cfg.Events.Capacity)
	mailbox := cardwatch.NewMailbox[access.Credential]()

	syncer := uplink.NewSyncer(uplink.SyncerConfig{
		URL:       cfg.Sync.URL,
		ChunkSize: cfg.Sync.ChunkSize,
		Timeout:   cfg.Sync.Timeout,
	}, cfg.Access.TablePath, queue)
	syncer.SetLogger(log.Component("sync"))

	var recorders []orchestrator.Recorder

	// Journal
	var (
		db      *database.DB
		journal *audit.SQLiteRepository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		applied, migErr := db.Migrate(ctx, migrations.FS)
		if migErr != nil {
			return fmt.Errorf("running migrations: %w", migErr)
		}
		log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

		journal = audit.NewSQLiteRepository(db.DB)
		recorders = append(recorders, journal)
	} else {
		log.Info("access journal disabled")
	}

	// Metrics
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		recorders = append(recorders, influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	var (
		orch    *orchestrator.Orchestrator
		monitor *uplink.Monitor
		session *uplink.Session
	)

	// Maintenance API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Version:  version,
			DeviceID: cfg.Device.ID,
			Status: func() api.ControllerStatus {
				return controllerStatus(lock, orch, monitor, session, table, queue)
			},
			Syncer: syncer,
		}
		if journal != nil {
			apiDeps.Journal = journal
		}
		apiServer, err = api.New(apiDeps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		recorders = append(recorders, apiServer.Hub())
	} else {
		log.Info("maintenance API disabled")
	}

	// Access loop
	orch = orchestrator.New(orchestrator.Deps{
		Credentials: mailbox,
		Keypad:      kp,
		Door:        lock,
		Table:       table,
		Events:      queue,
		Recorders:   recorders,
	}, orchestrator.Config{
		TimeoutPause: cfg.Door.TimeoutPause,
		Hold:         cfg.Door.Hold,
		Dwell:        cfg.Door.Dwell,
	})
	orch.SetLogger(log.Component("orchestrator"))

	watcher := cardwatch.NewWatcher(reader, mailbox, cardwatch.Config{
		Interval: cfg.Reader.PollInterval,
		AID:      aid,
	})
	watcher.SetLogger(log.Component("cardwatch"))

	// Network
	if cfg.WiFi.Enabled {
		link := wifi.NewLink(cfg.WiFi)
		link.SetLogger(log.Component("wifi"))
		defer func() {
			if closeErr := link.Close(); closeErr != nil {
				log.Error("error stopping wpa_supplicant", "error", closeErr)
			}
		}()

		monitor = uplink.NewMonitor(link, uplink.MonitorConfig{
			CredentialsFile: cfg.WiFi.CredentialsFile,
			PollInterval:    cfg.WiFi.PollInterval,
		})
		monitor.SetLogger(log.Component("network"))
	} else {
		log.Info("network management disabled")
	}

	// Uplink
	session = uplink.NewSession(newDialer(cfg.MQTT, log.Component("mqtt")), queue, syncer, uplink.SessionConfig{
		Topics:       mqtt.NewTopics(cfg.MQTT.TopicPrefix),
		QoS:          byte(cfg.MQTT.QoS),
		RetryDelay:   cfg.MQTT.Session.RetryDelay,
		Tick:         cfg.MQTT.Session.Tick,
		PingEvery:    cfg.MQTT.Session.PingEvery,
		HardwareAddr: hardwareAddr(cfg.WiFi.Interface, cfg.Device.ID, log),
	})
	session.SetLogger(log.Component("uplink"))

	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return session.Run(gctx) })
	if monitor != nil {
		g.Go(func() error { return monitor.Run(gctx) })
	}
	if influxClient != nil {
		g.Go(func() error {
			reportUplink(gctx, influxClient, monitor, session, queue)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for credentials")

	err = g.Wait()

	if rerr := reader.PowerDown(); rerr != nil {
		log.Debug("reader power down failed", "error", rerr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("controller stopped: %w", err)
	}

	log.Info("door controller stopped",
		"events_queued", queue.Len(),
		"events_dropped", queue.Dropped(),
	)
	return nil
}

// healthCheck verifies the optional recorders before the loops start.
// The broker is not checked: the uplink session retries on its own.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// controllerStatus snapshots the live state for the maintenance API.
func controllerStatus(lock *door.Actuator, orch *orchestrator.Orchestrator, monitor *uplink.Monitor,
	session *uplink.Session, table *access.Table, queue *events.Queue) api.ControllerStatus {
	st := api.ControllerStatus{
		Door:          lock.State().String(),
		Cycle:         orch.State().String(),
		Network:       monitor == nil || monitor.Connected(),
		Session:       session.Connected(),
		EventsQueued:  queue.Len(),
		EventsDropped: queue.Dropped(),
	}
	if n, err := table.Count(); err != nil {
		st.TableError = err.Error()
	} else {
		st.TableEntries = n
	}
	return st
}

// newDialer returns an uplink.Dialer that opens a fresh MQTT client per
// session attempt.
func newDialer(cfg config.MQTTConfig, log *logging.Logger) uplink.Dialer {
	return func(ctx context.Context) (uplink.Broker, error) {
		c, err := mqtt.ConnectContext(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.SetLogger(log)
		return c, nil
	}
}

// parseAID decodes the phone application identifier from config.
func parseAID(s string) ([]byte, error) {
	if s == "" {
		return cardwatch.AndroidAID, nil
	}
	aid, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parsing reader.aid %q: %w", s, err)
	}
	if len(aid) < 5 || len(aid) > 16 {
		return nil, fmt.Errorf("reader.aid must be 5 to 16 bytes, got %d", len(aid))
	}
	return aid, nil
}

// hardwareAddr returns the address announced on the mac topic, falling
// back to the device ID when the interface has none.
func hardwareAddr(iface, fallback string, log *logging.Logger) string {
	addr, err := uplink.HardwareAddr(iface)
	if err != nil {
		log.Warn("no hardware address, announcing device id instead",
			"interface", iface, "error", err)
		return fallback
	}
	return addr
}

// reportUplink writes the link and queue state to InfluxDB until ctx ends.
func reportUplink(ctx context.Context, c *influxdb.Client, monitor *uplink.Monitor, session *uplink.Session, queue *events.Queue) {
	ticker := time.NewTicker(uplinkReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			network := monitor == nil || monitor.Connected()
			c.RecordUplink(network, session.Connected(), queue.Len(), queue.Dropped())
		}
	}
}

func closeWithLog(log *logging.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Error("error closing "+what, "error", err)
	}
}
