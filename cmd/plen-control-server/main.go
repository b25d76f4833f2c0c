package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"plen/pkg/broker"
	"plen/pkg/drivers/mqttbridge"
	"plen/pkg/drivers/null"
	"plen/pkg/plen"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

type closableDriver interface {
	plen.Driver
	Close()
}

// createDriver builds the driver selected on the command line.
func createDriver(c *cli.Context, db *bolt.DB) (closableDriver, error) {
	switch name := c.String("driver"); name {
	case "null":
		drv, err := null.NewDriver(db, log.WithField("device", "null"))
		if err != nil {
			return nil, err
		}
		return drv, nil

	case "mqtt":
		drv, err := mqttbridge.NewDriver(db, log.WithField("device", "mqtt"))
		if err != nil {
			return nil, err
		}
		cfg, err := drv.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read bridge config: %w", err)
		}
		if c.IsSet("mqtt-broker") {
			cfg.Broker = c.String("mqtt-broker")
		}
		if c.IsSet("mqtt-username") {
			cfg.Username = c.String("mqtt-username")
		}
		if c.IsSet("mqtt-password") {
			cfg.Password = c.String("mqtt-password")
		}
		if c.IsSet("mqtt-topic-root") {
			cfg.TopicRoot = c.String("mqtt-topic-root")
		}
		if c.IsSet("mqtt-timeout") {
			cfg.ResponseTimeout = int(c.Duration("mqtt-timeout").Milliseconds())
		}
		if err := drv.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid bridge config: %w", err)
		}
		return drv, nil

	default:
		return nil, fmt.Errorf("unknown driver: %q", name)
	}
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("PLEN Control Server")

	db, err := bolt.Open(c.String("db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if addr := c.String("embedded-broker"); addr != "" {
		b, err := broker.New(addr, log.WithField("component", "broker"))
		if err != nil {
			return fmt.Errorf("failed to create embedded broker: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Run(ctx); err != nil {
				log.Errorf("Embedded broker failed: %v", err)
			}
		}()
		log.Infof("Embedded MQTT broker listening on %s", addr)
	}

	driver, err := createDriver(c, db)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	defer driver.Close()

	server := plen.NewServer(driver, log.WithField("component", "server"))

	addr := net.JoinHostPort(c.String("listen"), strconv.Itoa(c.Int("port")))
	srv := &http.Server{
		Addr:    addr,
		Handler: server.AddRoutes(),
	}
	srv.RegisterOnShutdown(server.Shutdown)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Could not listen on %s: %v", srv.Addr, err)
			stop()
		}
	}()

	if c.Bool("discovery") {
		discoveryLogger := log.WithField("component", "discovery")
		dr, err := plen.NewDiscoveryResponder(c.String("listen"), c.Int("discovery-port"), c.Int("port"), discoveryLogger)
		if err != nil {
			log.Errorf("Failed to start discovery responder: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := dr.Run(ctx); err != nil {
					log.Errorf("Discovery responder failed: %v", err)
				}
				log.Debug("Discovery responder stopped")
			}()
		}
	}

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

// loadDotEnv loads PLEN_* settings from path before the flags are parsed.
// A missing file is ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "plen-control-server",
		Usage: "Remote control server for the PLEN robot",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Address to listen on",
				Value:   "localhost",
				EnvVars: []string{"PLEN_LISTEN"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   plen.DefaultPort,
				EnvVars: []string{"PLEN_PORT"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path of the settings database",
				Value:   "plen.db",
				EnvVars: []string{"PLEN_DB"},
			},
			&cli.StringFlag{
				Name:    "driver",
				Usage:   "Driver to use: null or mqtt",
				Value:   "null",
				EnvVars: []string{"PLEN_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "mqtt-broker",
				Usage:   "MQTT broker URL of the PLEN bridge",
				EnvVars: []string{"PLEN_MQTT_BROKER"},
			},
			&cli.StringFlag{
				Name:    "mqtt-username",
				EnvVars: []string{"PLEN_MQTT_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "mqtt-password",
				EnvVars: []string{"PLEN_MQTT_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "mqtt-topic-root",
				Usage:   "Topic prefix used by the PLEN bridge",
				EnvVars: []string{"PLEN_MQTT_TOPIC_ROOT"},
			},
			&cli.DurationFlag{
				Name:    "mqtt-timeout",
				Usage:   "Time to wait for a bridge response",
				EnvVars: []string{"PLEN_MQTT_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "embedded-broker",
				Usage:   "Run an MQTT broker on this address, e.g. :1883",
				EnvVars: []string{"PLEN_EMBEDDED_BROKER"},
			},
			&cli.BoolFlag{
				Name:    "discovery",
				Usage:   "Answer LAN discovery requests",
				EnvVars: []string{"PLEN_DISCOVERY"},
			},
			&cli.IntFlag{
				Name:    "discovery-port",
				Value:   plen.DefaultDiscoveryPort,
				EnvVars: []string{"PLEN_DISCOVERY_PORT"},
			},
		},
		Action: run,
	}
}

func main() {
	envFile := os.Getenv("PLEN_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadDotEnv(envFile); err != nil {
		log.Fatalf("Error: failed to load %s: %v", envFile, err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
