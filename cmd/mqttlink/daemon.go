package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/database"
	"github.com/nerrad567/mqttlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/journal"
	"github.com/nerrad567/mqttlink/internal/statusfeed"
	"github.com/nerrad567/mqttlink/internal/telemetry"
	"github.com/nerrad567/mqttlink/internal/trace"
	"github.com/nerrad567/mqttlink/migrations"
)

// pruneInterval is how often the journal drops entries past retention.
const pruneInterval = time.Hour

func cmdRun(ctx context.Context, args []string, stderr io.Writer) error {
	fset, configPath := newFlagSet("run", stderr)
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, log, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log.Info("starting mqttlink",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", *configPath,
	)

	return runDaemon(ctx, cfg, log)
}

// runDaemon wires every component around one managed connection and blocks
// until ctx is cancelled or reconnection gives up.
func runDaemon(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	broker := cfg.MQTT.BrokerURL()

	// Trace recorder (optional). Opened first so the message handler can wrap it.
	var recorder *trace.Recorder
	if cfg.Trace.Enabled {
		var err error
		recorder, err = trace.NewRecorder(cfg.Trace.Path, cfg.Trace.RecordMessages)
		if err != nil {
			return fmt.Errorf("opening trace file: %w", err)
		}
		defer func() {
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing trace file", "error", closeErr)
			}
		}()
		log.Info("tracing enabled", "path", cfg.Trace.Path, "messages", cfg.Trace.RecordMessages)
	}

	msgLog := log.Component("messages")
	var handler connection.MessageHandler = func(topic string, payload []byte, msg connection.Message) {
		msgLog.Debug("message received",
			"topic", topic,
			"bytes", len(payload),
			"qos", msg.Qos(),
			"retained", msg.Retained(),
		)
	}
	if recorder != nil {
		handler = recorder.Wrap(handler)
	}

	mgr, err := newManager(cfg, log, handler)
	if err != nil {
		return err
	}
	// Closed ahead of the other components so they record the final
	// disconnect; the defer covers early returns.
	closeManager := sync.OnceFunc(func() {
		log.Info("closing MQTT connection")
		mgr.Close()
	})
	defer closeManager()

	mgr.AddObserver(telemetry.NewLogObserver(log.Component("connection"), broker))
	if recorder != nil {
		mgr.AddObserver(recorder)
	}

	// Connection journal (optional)
	var store *journal.Store
	if cfg.Journal.Enabled {
		db, err := database.Open(ctx, database.ConfigFromJournal(cfg.Journal))
		if err != nil {
			return fmt.Errorf("opening journal database: %w", err)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("journal ready", "path", cfg.Journal.Path)

		store = journal.NewStore(db, broker, log.Component("journal"))
		// Registered after the database defer so it drains before the close.
		defer store.Close()
		mgr.AddObserver(store)
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		mgr.AddObserver(telemetry.NewInfluxObserver(influx, broker, len(mgr.Subscriptions())))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Status feed (optional)
	if cfg.StatusFeed.Enabled {
		deps := statusfeed.Deps{
			Config:  cfg.StatusFeed,
			Logger:  log,
			Source:  mgr,
			Version: version,
		}
		if store != nil {
			deps.History = store
		}
		feed, err := statusfeed.New(deps)
		if err != nil {
			return fmt.Errorf("creating status feed: %w", err)
		}
		if err := feed.Start(ctx); err != nil {
			return fmt.Errorf("starting status feed: %w", err)
		}
		defer func() {
			if closeErr := feed.Close(); closeErr != nil {
				log.Error("error closing status feed", "error", closeErr)
			}
		}()
		mgr.AddObserver(feed)
	}

	events, stopWatch := mgr.Watch(16)
	defer stopWatch()

	if len(cfg.MQTT.Subscriptions) > 0 {
		mgr.Subscribe(cfg.MQTT.Subscriptions...)
	}
	mgr.Connect()
	log.Info("mqttlink started", "broker", broker, "client_id", mgr.Options().ClientID)

	g, gctx := errgroup.WithContext(ctx)

	if store != nil && cfg.Journal.RetentionDays > 0 {
		retention := time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			store.PruneLoop(gctx, retention, pruneInterval)
			return nil
		})
	}

	g.Go(func() error {
		return watchExhaustion(gctx, events)
	})

	err = g.Wait()
	closeManager()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		log.Info("shutdown signal received")
		return nil
	}
	return err
}

// watchExhaustion returns an error once the manager stops reconnecting, so
// a supervisor can restart the process.
func watchExhaustion(ctx context.Context, events <-chan connection.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Kind != connection.EventReconnectExhausted {
				continue
			}
			if ev.Err != nil {
				return fmt.Errorf("giving up on broker: %w", ev.Err)
			}
			return connection.ErrReconnectExhausted
		}
	}
}

// newManager builds a connection manager for the mqtt section of cfg.
func newManager(cfg *config.Config, log *logging.Logger, handler connection.MessageHandler) (*connection.Manager, error) {
	dialer := mqtt.NewDialer(log.Component("mqtt"))
	if cfg.MQTT.WriteTimeoutMs > 0 {
		dialer.SetOperationTimeout(time.Duration(cfg.MQTT.WriteTimeoutMs) * time.Millisecond)
	}

	mgr, err := connection.New(cfg.MQTT.BrokerURL(), mqtt.OptionsFromConfig(cfg.MQTT), dialer, handler)
	if err != nil {
		return nil, fmt.Errorf("creating connection manager: %w", err)
	}
	mgr.SetLogger(log.Component("connection"))
	return mgr, nil
}
