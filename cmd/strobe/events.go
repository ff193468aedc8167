package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"

	"github.com/strobelab/strobe/internal/errorutil"
	"github.com/strobelab/strobe/internal/httputil"
	"github.com/strobelab/strobe/internal/ingest"
	"github.com/strobelab/strobe/internal/tracepoint"
)

var tpPostEvents = tracepoint.New("strobe", "postEvents", 0)

func (e *environment) postEvents(w http.ResponseWriter, r *http.Request) {
	e.tracer.Enter(tpPostEvents)
	defer e.tracer.Leave()

	hub := sentry.GetHubFromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var batch ingest.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := e.applier.Apply(batch)
	if err != nil {
		if errors.Is(err, errorutil.ErrDataIntegrity) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, hub, http.StatusOK, result)
}
