// Command tritond is the forwarder daemon: it accepts framed records
// from in-process triton/forward.Client senders, reassembles per-stream
// batches, and dispatches them to the configured producer backends.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/tritonstream/triton/triton/backend"
	"github.com/tritonstream/triton/triton/checkpoint"
	"github.com/tritonstream/triton/triton/forward"
	"github.com/tritonstream/triton/triton/producer"
	"github.com/tritonstream/triton/triton/tritonlog"
)

type config struct {
	ZMQHost string `long:"zmq-host" env:"TRITON_ZMQ_HOST" default:"127.0.0.1" description:"Address the forwarder daemon binds to."`
	ZMQPort int    `long:"zmq-port" env:"TRITON_ZMQ_PORT" default:"3515" description:"Port the forwarder daemon binds to."`

	ConfigFile string `long:"config" required:"true" description:"Path to the stream configuration document (JSON)."`

	BatchMax int `long:"batch-max" default:"500" description:"Per-stream batch size that triggers an immediate flush."`

	DB         string `long:"db" env:"TRITON_DB" default:"file:tritond-checkpoints.db" description:"database/sql DSN for the checkpoint schema this daemon provisions at startup."`
	ClientName string `long:"client-name" env:"TRITON_CLIENT_NAME" default:"tritond" description:"Checkpoint namespace for this daemon's consumers."`

	LogLevel string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level."`
}

func main() {
	var cfg config
	var parser = flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("err", err).Fatal("invalid log level")
	}
	tritonlog.Configure(level)

	if err := run(cfg); err != nil {
		log.WithField("err", err).Fatal("tritond exited with error")
	}
}

func run(cfg config) error {
	document, err := loadConfigDocument(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading stream configuration: %w", err)
	}

	registry, err := producer.NewRegistry(document, backendFactory)
	if err != nil {
		return fmt.Errorf("building stream registry: %w", err)
	}

	store, err := checkpoint.NewStore(checkpoint.Config{DSN: cfg.DB, ClientName: cfg.ClientName})
	if err != nil {
		return fmt.Errorf("building checkpoint store: %w", err)
	}
	if err := store.InitDB(context.Background()); err != nil {
		return fmt.Errorf("provisioning checkpoint schema: %w", err)
	}
	defer store.Close()

	metrics := tritonlog.NewMetrics()
	metrics.MustRegister(prometheus.DefaultRegisterer)

	var resolve forward.StreamResolver = func(streamName string) (forward.PackedPutter, error) {
		return registry.Lookup(streamName)
	}
	var daemon = forward.NewDaemon(resolve, cfg.BatchMax)

	addr := fmt.Sprintf("%s:%d", cfg.ZMQHost, cfg.ZMQPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding forwarder socket on %s: %w", addr, err)
	}
	defer ln.Close()
	log.WithField("addr", addr).Info("tritond: listening for forwarder clients")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sig = make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		log.Info("tritond: received shutdown signal, closing listener")
		cancel()
	}()

	return daemon.Serve(ctx, ln)
}

func loadConfigDocument(path string) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var document map[string]interface{}
	if err := json.NewDecoder(f).Decode(&document); err != nil {
		return nil, fmt.Errorf("parsing %s as JSON: %w", path, err)
	}
	return document, nil
}

// backendFactory builds the concrete backend.Backend for a decoded
// producer.EntryConfig, choosing between the partitioned-log and
// pub/sub implementations the way producer.Registry's factory
// contract expects.
func backendFactory(cfg producer.EntryConfig) (backend.Backend, error) {
	if cfg.IsPubSub() {
		return backend.NewPubSubBackend(context.Background(), backend.PubSubConfig{
			ProjectID:      cfg.Project,
			Topic:          cfg.Topic,
			PrivateKeyFile: cfg.PrivateKeyFile,
		})
	}
	return backend.NewKinesisBackend(backend.KinesisConfig{
		Stream: cfg.Name,
		Region: cfg.Region,
	})
}
