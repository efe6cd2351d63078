package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/heatpump2mqtt/internal/adapter/actor"
	"github.com/berfenger/heatpump2mqtt/internal/adapter/filestore"
	"github.com/berfenger/heatpump2mqtt/internal/config"
	"github.com/berfenger/heatpump2mqtt/internal/core/actor"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"
	"github.com/berfenger/heatpump2mqtt/internal/core/service"
	"github.com/berfenger/heatpump2mqtt/internal/core/store"
	"github.com/berfenger/heatpump2mqtt/internal/metrics"
	"github.com/berfenger/heatpump2mqtt/internal/server"
	"github.com/berfenger/heatpump2mqtt/internal/util/actorutil"
	"github.com/berfenger/heatpump2mqtt/pkg/r290_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("starting heatpump2mqtt", zap.String("version", versioninfo.Short()))

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	deps := actor.MasterDependencies{
		Registers: store.NewValueStore(),
		Sensors:   store.NewValueStore(),
		Blobs:     blobStoreProvider(cfg),
		Observer:  m,
	}

	// init Modbus actor provider
	modbusProv, err := modbusActorProvider(cfg, deps.Registers, m, logger)
	if err != nil {
		logger.Fatal("modbus transport", zap.Error(err))
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, deps, modbusProv, mqttActorProvider(cfg, deps.Sensors, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Fatal("master actor", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, prometheus.DefaultGatherer)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	// children persist their state while stopping
	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Error("master stop", zap.Error(err))
	}
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => HEATPUMP_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("HEATPUMP_PORT", port)
	}

	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("heatpump")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = config.ParseLogLevel(viper.GetString("log_level"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func modbusActorProvider(cfg *config.Config, registers *store.ValueStore, m *metrics.Metrics, logger *zap.Logger) (actor.ModbusActorProvider, error) {

	var transport port.RegisterTransport
	if cfg.Modbus.Mode == config.MODBUS_MODE_TEST {
		transport = r290_modbus.CreateTestTransport()
	} else {
		t, err := r290_modbus.CreateModbusTransport(cfg.Modbus.Host, cfg.Modbus.Port, cfg.Modbus.Mode,
			cfg.Modbus.Timeout, cfg.Modbus.Retries, logger, m.ModbusInstrument())
		if err != nil {
			return nil, err
		}
		transport = t
	}

	poller := &service.BatchPoller{
		Transport: transport,
		Store:     registers,
		Config:    actor.ModbusPollerConfig(cfg.Modbus),
		Observer:  m,
		Logger:    logger,
	}

	return func() *adactor.ModbusActor {
		return adactor.NewModbusActor(transport, poller, 0, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, sensors *store.ValueStore, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, sensors, logger)
	}
}

func blobStoreProvider(cfg *config.Config) actor.BlobStoreProvider {
	fs := afero.NewOsFs()
	return func(name string) port.BlobStore {
		return filestore.NewCOPBlobStore(fs, cfg.Storage.Path, name)
	}
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
