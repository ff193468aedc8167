package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/phayes/freeport"

	"github.com/strobelab/strobe/internal/calltree"
	"github.com/strobelab/strobe/internal/errorutil"
	"github.com/strobelab/strobe/internal/tracepoint"
)

func testTree() *calltree.Node {
	root := calltree.NewRoot()
	f := root.EnsureChild(tracepoint.New("app", "f", 0))
	f.Count = 3
	f.DurationNS = 1500
	root.DurationNS = 1500
	return root
}

func TestBuildSnapshotMessage(t *testing.T) {
	m := BuildSnapshotMessage(testTree(), 2, "web-1", "production")
	if _, err := uuid.Parse(m.SnapshotID); err != nil {
		t.Fatalf("snapshot ID is not a uuid: %v", err)
	}
	if m.Hostname != "web-1" || m.Environment != "production" {
		t.Fatalf("metadata not carried: %+v", m)
	}
	if m.DurationNS != 1500 || m.ThreadCount != 2 {
		t.Fatalf("metrics not carried: %+v", m)
	}
	if m.CallTree == nil || m.CallTree.ChildCount() != 1 {
		t.Fatalf("call tree not attached: %+v", m.CallTree)
	}
	if m.Timestamp == 0 {
		t.Fatal("timestamp not set")
	}
}

func TestKafkaDestinationNotConfigured(t *testing.T) {
	if _, err := NewKafkaDestination(nil, "topic"); !errors.Is(err, errorutil.ErrNotConfigured) {
		t.Fatalf("got %v, want not-configured error", err)
	}
	if _, err := NewKafkaDestination([]string{"localhost:9092"}, ""); !errors.Is(err, errorutil.ErrNotConfigured) {
		t.Fatalf("got %v, want not-configured error", err)
	}
}

func TestCollectorDestinationNotConfigured(t *testing.T) {
	if _, err := NewCollectorDestination(""); !errors.Is(err, errorutil.ErrNotConfigured) {
		t.Fatalf("got %v, want not-configured error", err)
	}
}

func TestCollectorDestinationShips(t *testing.T) {
	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatal(err)
	}

	received := make(chan SnapshotMessage, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshots", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var m SnapshotMessage
		if err := json.Unmarshal(b, &m); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- m
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	server := &http.Server{Handler: mux}
	go func() { _ = server.Serve(ln) }()
	defer server.Close()

	d, err := NewCollectorDestination(fmt.Sprintf("http://%s/snapshots", addr))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	sent := BuildSnapshotMessage(testTree(), 1, "web-1", "test")
	if err := d.Ship(context.Background(), sent); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got.SnapshotID != sent.SnapshotID {
			t.Fatalf("snapshot ID: got %q, want %q", got.SnapshotID, sent.SnapshotID)
		}
		if got.CallTree == nil || got.CallTree.ChildCount() != 1 {
			t.Fatalf("call tree did not survive the round trip: %+v", got.CallTree)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("collector never received the snapshot")
	}
}

type recordingDestination struct {
	shipped []SnapshotMessage
	closed  bool
}

func (d *recordingDestination) Ship(_ context.Context, m SnapshotMessage) error {
	d.shipped = append(d.shipped, m)
	return nil
}

func (d *recordingDestination) Close() error {
	d.closed = true
	return nil
}

func TestShipperShipsAndStops(t *testing.T) {
	rec := &recordingDestination{}
	source := func() (*calltree.Node, int) { return testTree(), 1 }
	s := NewShipper(source, time.Hour, "web-1", "test", rec)

	s.ship(context.Background())
	if len(rec.shipped) != 1 {
		t.Fatalf("shipped: got %d messages, want 1", len(rec.shipped))
	}
	if rec.shipped[0].ThreadCount != 1 {
		t.Fatalf("message: %+v", rec.shipped[0])
	}

	s.Stop()
	if !rec.closed {
		t.Fatal("destination not closed on stop")
	}
}
