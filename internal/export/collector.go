package export

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"

	"github.com/strobelab/strobe/internal/errorutil"
)

// CollectorDestination POSTs snapshot messages to an HTTP collector, with
// retries and constant backoff for transient failures.
type CollectorDestination struct {
	url  string
	http *httpclient.Client
}

func NewCollectorDestination(url string) (*CollectorDestination, error) {
	if url == "" {
		return nil, fmt.Errorf("export: collector: %w: URL must be set", errorutil.ErrNotConfigured)
	}
	return &CollectorDestination{
		url: url,
		http: httpclient.NewClient(
			httpclient.WithHTTPTimeout(30*time.Second),
			httpclient.WithRetryCount(3),
			httpclient.WithRetrier(heimdall.NewRetrier(heimdall.NewConstantBackoff(500*time.Millisecond, 100*time.Millisecond))),
		),
	}, nil
}

func (d *CollectorDestination) Ship(_ context.Context, m SnapshotMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	resp, err := d.http.Post(d.url, bytes.NewReader(b), headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("export: collector: unexpected status %d from %s", resp.StatusCode, d.url)
	}
	return nil
}

func (d *CollectorDestination) Close() error {
	return nil
}
