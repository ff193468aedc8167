package main

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type ServiceConfig struct {
	Environment string `env:"STROBE_ENVIRONMENT" env-default:"development"`
	Port        string `env:"STROBE_PORT" env-default:"8080"`

	SentryDSN string `env:"SENTRY_DSN"`

	Hostname string `env:"STROBE_HOSTNAME"`

	// Snapshot shipping. Both sinks are off unless configured.
	ShipInterval         time.Duration `env:"STROBE_SHIP_INTERVAL" env-default:"60s"`
	SnapshotKafkaBrokers []string      `env:"STROBE_SNAPSHOT_KAFKA_BROKERS"`
	SnapshotKafkaTopic   string        `env:"STROBE_SNAPSHOT_KAFKA_TOPIC" env-default:"strobe-call-trees"`
	CollectorURL         string        `env:"STROBE_COLLECTOR_URL"`
}

func loadConfig() (ServiceConfig, error) {
	var c ServiceConfig
	if err := cleanenv.ReadEnv(&c); err != nil {
		return c, err
	}
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
	return c, nil
}
