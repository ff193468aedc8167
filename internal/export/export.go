// Package export periodically ships merged call tree snapshots to external
// sinks: a Kafka topic, an HTTP collector, or both. Shipping is reporting
// only; the engine itself persists nothing.
package export

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/strobelab/strobe/internal/calltree"
)

type (
	// SnapshotMessage is the payload shipped to every destination.
	SnapshotMessage struct {
		SnapshotID  string         `json:"snapshot_id"`
		Hostname    string         `json:"hostname,omitempty"`
		Environment string         `json:"environment,omitempty"`
		Timestamp   int64          `json:"timestamp"`
		DurationNS  uint64         `json:"duration_ns"`
		ThreadCount int            `json:"thread_count"`
		CallTree    *calltree.Node `json:"call_tree"`
	}

	// Source produces the merged snapshot to ship, plus the number of
	// threads it covers.
	Source func() (*calltree.Node, int)

	// Destination is one sink for snapshot messages.
	Destination interface {
		Ship(ctx context.Context, m SnapshotMessage) error
		Close() error
	}

	// Shipper drives periodic shipping to a set of destinations.
	Shipper struct {
		source       Source
		destinations []Destination
		interval     time.Duration
		hostname     string
		environment  string
		done         chan struct{}
	}
)

func NewShipper(source Source, interval time.Duration, hostname, environment string, destinations ...Destination) *Shipper {
	return &Shipper{
		source:       source,
		destinations: destinations,
		interval:     interval,
		hostname:     hostname,
		environment:  environment,
		done:         make(chan struct{}),
	}
}

// BuildSnapshotMessage assembles the payload for one shipment.
func BuildSnapshotMessage(root *calltree.Node, threads int, hostname, environment string) SnapshotMessage {
	return SnapshotMessage{
		SnapshotID:  uuid.New().String(),
		Hostname:    hostname,
		Environment: environment,
		Timestamp:   time.Now().Unix(),
		DurationNS:  root.DurationNS,
		ThreadCount: threads,
		CallTree:    root,
	}
}

// Run ships a snapshot every interval until Stop is called. Shipping
// failures are reported and retried on the next tick, never fatal.
func (s *Shipper) Run() {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.ship(context.Background())
		}
	}
}

func (s *Shipper) ship(ctx context.Context) {
	root, threads := s.source()
	m := BuildSnapshotMessage(root, threads, s.hostname, s.environment)
	for _, d := range s.destinations {
		if err := d.Ship(ctx, m); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Str("snapshot_id", m.SnapshotID).Msg("export: failed to ship snapshot")
		}
	}
}

// Stop halts the periodic loop and closes every destination.
func (s *Shipper) Stop() {
	close(s.done)
	for _, d := range s.destinations {
		if err := d.Close(); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("export: failed to close destination")
		}
	}
}
