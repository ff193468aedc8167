package main

import (
	"net/http"
	"sort"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/strobelab/strobe/internal/calltree"
	"github.com/strobelab/strobe/internal/httputil"
	"github.com/strobelab/strobe/internal/tracepoint"
)

// The daemon traces its own request handling through the engine it hosts.
var (
	tpGetCallTree  = tracepoint.New("strobe", "getCallTree", 0)
	tpGetFolded    = tracepoint.New("strobe", "getFoldedCallTree", 0)
	tpGetFunctions = tracepoint.New("strobe", "getFunctions", 0)
)

type (
	GetCallTreeResponse struct {
		SnapshotID  string         `json:"snapshot_id"`
		Timestamp   int64          `json:"timestamp"`
		ThreadCount int            `json:"thread_count"`
		CallTree    *calltree.Node `json:"call_tree"`
	}

	GetFunctionsResponse struct {
		Functions []calltree.Function `json:"functions"`
	}
)

func (e *environment) getCallTree(w http.ResponseWriter, r *http.Request) {
	e.tracer.Enter(tpGetCallTree)
	defer e.tracer.Leave()

	hub := sentry.GetHubFromContext(r.Context())
	httputil.WriteJSON(w, hub, http.StatusOK, GetCallTreeResponse{
		SnapshotID:  uuid.New().String(),
		Timestamp:   time.Now().Unix(),
		ThreadCount: e.tracer.ThreadCount() + e.applier.ThreadCount(),
		CallTree:    e.mergedCallTree(),
	})
}

func (e *environment) getFoldedCallTree(w http.ResponseWriter, r *http.Request) {
	e.tracer.Enter(tpGetFolded)
	defer e.tracer.Leave()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := calltree.WriteFolded(w, e.mergedCallTree()); err != nil {
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
	}
}

func (e *environment) getFunctions(w http.ResponseWriter, r *http.Request) {
	e.tracer.Enter(tpGetFunctions)
	defer e.tracer.Leave()

	functions := calltree.CollectFunctions(e.mergedCallTree())
	response := GetFunctionsResponse{
		Functions: make([]calltree.Function, 0, len(functions)),
	}
	for _, f := range functions {
		response.Functions = append(response.Functions, f)
	}
	sort.Slice(response.Functions, func(i, j int) bool {
		if response.Functions[i].SelfTimeNS != response.Functions[j].SelfTimeNS {
			return response.Functions[i].SelfTimeNS > response.Functions[j].SelfTimeNS
		}
		return response.Functions[i].Fingerprint < response.Functions[j].Fingerprint
	})

	hub := sentry.GetHubFromContext(r.Context())
	httputil.WriteJSON(w, hub, http.StatusOK, response)
}

func (e *environment) postReset(w http.ResponseWriter, _ *http.Request) {
	e.tracer.Clear()
	e.applier.Clear()
	w.WriteHeader(http.StatusNoContent)
}
