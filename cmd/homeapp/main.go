// homeapp node
//
// This is the main entry point of the homeapp sensor node. The node:
//   - polls one-wire temperature sensors and publishes debounced readings
//   - applies firmware updates fetched over HTTPS into an A/B slot pair
//   - publishes connection and queue statistics
//
// Every value leaves the node as a JSON record on the MQTT bus; an operator
// HTTP API and a Prometheus endpoint run alongside.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/procfs"

	"github.com/nerrad567/homeapp-node/internal/api"
	"github.com/nerrad567/homeapp-node/internal/control"
	"github.com/nerrad567/homeapp-node/internal/event"
	"github.com/nerrad567/homeapp-node/internal/firmware"
	"github.com/nerrad567/homeapp-node/internal/indicator"
	"github.com/nerrad567/homeapp-node/internal/infrastructure/config"
	"github.com/nerrad567/homeapp-node/internal/infrastructure/database"
	"github.com/nerrad567/homeapp-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/homeapp-node/internal/infrastructure/logging"
	"github.com/nerrad567/homeapp-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/homeapp-node/internal/node"
	"github.com/nerrad567/homeapp-node/internal/nvs"
	"github.com/nerrad567/homeapp-node/internal/onewire"
	"github.com/nerrad567/homeapp-node/internal/ota"
	"github.com/nerrad567/homeapp-node/internal/reporter"
	"github.com/nerrad567/homeapp-node/internal/stats"
	"github.com/nerrad567/homeapp-node/internal/temperature"
	"github.com/nerrad567/homeapp-node/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0"), also the factory image version
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when HOMEAPP_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// projectName is written to the project field of the factory descriptor.
	projectName = "homeapp"

	// nvs namespaces
	namesNamespace  = "sensor_names"
	systemNamespace = "system"

	bootCountKey = "boot_count"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting homeapp node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	id, err := node.Resolve(cfg.Device.TopicPrefix, cfg.Device.Name, cfg.Device.HardwareID, cfg.Device.Interface)
	if err != nil {
		return fmt.Errorf("resolving node identity: %w", err)
	}
	topics := mqtt.Topics{Prefix: id.Prefix, Device: id.Name, ShortID: id.ShortID()}
	log = log.With("node", id.String())

	// Local storage
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

	names, err := nvs.Open(db.DB, namesNamespace)
	if err != nil {
		return fmt.Errorf("opening sensor name store: %w", err)
	}
	system, err := nvs.Open(db.DB, systemNamespace)
	if err != nil {
		return fmt.Errorf("opening system store: %w", err)
	}
	boots, err := countBoot(ctx, system)
	if err != nil {
		return fmt.Errorf("counting boot: %w", err)
	}
	log.Info("boot recorded", "boot_count", boots)

	// Metrics, queue and counters
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	queue := event.NewQueue(cfg.Events.QueueSize, event.NewMetrics(registry))
	var rssi stats.RSSIFunc
	if link, err := node.NewSignal(procfs.DefaultMountPoint, cfg.Device.Interface); err != nil {
		log.Warn("wireless signal unavailable, rssi reported as 0", "error", err)
	} else {
		rssi = link.RSSI
	}
	counters := stats.New(stats.Options{
		Device: topics.ShortID,
		Topic:  topics.Statistics(),
		Depth:  queue,
		RSSI:   rssi,
	})
	if err := counters.Register(registry); err != nil {
		return fmt.Errorf("registering statistics metrics: %w", err)
	}

	// Firmware update path
	updates, slots, err := newUpdateSequencer(cfg.OTA, topics, queue, counters, log)
	if err != nil {
		return err
	}
	if slots.RolledBack() {
		log.Warn("pending image failed to confirm, rolled back", "boot_slot", slots.BootSlot())
	}
	running, err := updates.Init()
	if err != nil {
		return fmt.Errorf("initialising ota: %w", err)
	}

	// Temperature sensors
	var temps *temperature.Sequencer
	if cfg.Temperature.Enabled {
		temps, err = startTemperature(ctx, cfg, topics, names, queue, counters, log)
		if err != nil {
			return err
		}
	} else {
		log.Info("temperature polling disabled")
	}

	// A nil *Sequencer must not reach the interface-typed parameters.
	var sensors control.Sensors
	var apiSensors api.Sensors
	var reportTemps reporter.Temperatures
	if temps != nil {
		sensors, apiSensors, reportTemps = temps, temps, temps
	}

	ctrl := control.New(ctx, topics, updates, sensors, counters)
	ctrl.SetLogger(log.Component("control"))

	// Message bus
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics,
		mqtt.WithOnConnect(ctrl.OnConnect),
		mqtt.WithOnDisconnect(ctrl.OnDisconnect),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"base_topic", topics.Base(),
	)

	if err := ctrl.Register(mqttClient); err != nil {
		return fmt.Errorf("registering command handlers: %w", err)
	}

	// Optional telemetry mirror
	var mirror reporter.Mirror
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, topics.ShortID)
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
		mirror = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	led, err := indicator.Open(cfg.Indicator.Pin)
	if err != nil {
		return fmt.Errorf("opening activity indicator: %w", err)
	}
	defer led.Off() //nolint:errcheck // best effort on shutdown

	rep := reporter.New(reporter.Options{
		Source:             queue,
		Publisher:          mqttClient,
		OTA:                updates,
		Temperatures:       reportTemps,
		Statistics:         counters,
		StatisticsInterval: cfg.Events.StatisticsInterval,
		Mirror:             mirror,
		Activity:           led,
	})
	rep.SetLogger(log.Component("reporter"))
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		rep.Run(ctx)
	}()

	if temps != nil {
		if err := temps.Start(ctx); err != nil {
			return fmt.Errorf("starting temperature polling: %w", err)
		}
	}

	// Operator API
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.Component("api"),
			OTA:        updates,
			Sensors:    apiSensors,
			Statistics: counters,
			Queue:      queue,
			Broker:     mqttClient,
			Gatherer:   registry,
			Device:     topics.ShortID,
			Version:    running,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	go confirmAfterGrace(ctx, updates, cfg.OTA.RollbackGrace, log)

	log.Info("initialisation complete, waiting for shutdown signal", "firmware", running)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if temps != nil {
		temps.Wait()
	}
	updates.Wait()
	<-reportDone

	log.Info("homeapp node stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HOMEAPP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMEAPP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newUpdateSequencer builds the firmware slots, the HTTPS updater, the
// restarter and the sequencer driving them.
func newUpdateSequencer(cfg config.OTAConfig, topics mqtt.Topics, sink event.Sink, counters *stats.Aggregator, log *logging.Logger) (*ota.Sequencer, *firmware.Slots, error) {
	slots, err := firmware.OpenSlots(cfg.SlotDir, ota.NewDescriptor(projectName, version))
	if err != nil {
		return nil, nil, fmt.Errorf("opening firmware slots: %w", err)
	}

	client, err := firmware.NewHTTPClient(cfg.CAFile, cfg.RecvTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("creating update client: %w", err)
	}

	seq := ota.New(ota.Options{
		BaseURL:     cfg.BaseURL,
		Topic:       topics.OTAUpdate(),
		Device:      topics.ShortID,
		Updater:     firmware.NewUpdater(client, slots, cfg.RecvTimeout),
		Partitions:  slots,
		Restarter:   firmware.NewCommandRestarter(cfg.RebootCommand, log.Component("restarter")),
		Events:      sink,
		Counter:     counters,
		RebootDelay: cfg.RebootDelay,
	})
	seq.SetLogger(log.Component("ota"))
	return seq, slots, nil
}

// startTemperature opens the one-wire bus and discovers the sensors.
//
// A node without a bus or without sensors keeps running; temperature
// polling is then disabled and nil is returned.
func startTemperature(ctx context.Context, cfg *config.Config, topics mqtt.Topics, names temperature.NameStore,
	sink event.Sink, counters *stats.Aggregator, log *logging.Logger) (*temperature.Sequencer, error) {
	bus, err := onewire.Open(cfg.Temperature.Bus, cfg.Temperature.ResolutionBits)
	if err != nil {
		log.Warn("one-wire bus unavailable, temperature polling disabled", "error", err)
		return nil, nil
	}

	seq := temperature.New(temperature.Options{
		Bus:          bus,
		Names:        names,
		Events:       sink,
		Errors:       counters,
		Counter:      counters,
		Device:       topics.ShortID,
		Topic:        topics.Temperature,
		PollInterval: cfg.Temperature.PollInterval,
		MinEpoch:     cfg.Clock.MinEpoch,
	})
	seq.SetLogger(log.Component("temperature"))

	n, err := seq.Init(ctx, cfg.Temperature.MaxSensors)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("initialising temperature sensors: %w", err)
		}
		log.Warn("temperature sensor initialisation incomplete", "sensors", n, "error", err)
	}
	if n == 0 {
		log.Info("no temperature sensors found", "bus", bus.String())
		_ = bus.Close()
		return nil, nil
	}
	return seq, nil
}

// countBoot increments and returns the persisted boot counter.
func countBoot(ctx context.Context, store *nvs.Store) (int, error) {
	var count int
	raw, err := store.GetString(ctx, bootCountKey)
	switch {
	case errors.Is(err, nvs.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		if count, err = strconv.Atoi(raw); err != nil {
			count = 0
		}
	}
	count++
	if err := store.SetString(ctx, bootCountKey, strconv.Itoa(count)); err != nil {
		return 0, err
	}
	return count, nil
}

// rollbackCanceller confirms the running image.
type rollbackCanceller interface {
	CancelRollback() error
}

// confirmAfterGrace confirms the running image once it has stayed up for
// the grace period. A node that crashes or is stopped before then boots
// back into the previous image.
func confirmAfterGrace(ctx context.Context, rc rollbackCanceller, grace time.Duration, log *logging.Logger) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := rc.CancelRollback(); err != nil {
		log.Error("failed to confirm running image", "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
