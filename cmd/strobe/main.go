package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/strobelab/strobe/internal/calltree"
	"github.com/strobelab/strobe/internal/errorutil"
	"github.com/strobelab/strobe/internal/export"
	"github.com/strobelab/strobe/internal/httputil"
	"github.com/strobelab/strobe/internal/ingest"
	"github.com/strobelab/strobe/internal/logutil"
	"github.com/strobelab/strobe/internal/tracer"
)

type environment struct {
	config ServiceConfig

	tracer  *tracer.Manager
	applier *ingest.Applier
	shipper *export.Shipper
}

var release string

func newEnvironment() (*environment, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e := environment{
		config:  config,
		tracer:  tracer.Default(),
		applier: ingest.NewApplier(),
	}

	var destinations []export.Destination
	kd, err := export.NewKafkaDestination(config.SnapshotKafkaBrokers, config.SnapshotKafkaTopic)
	switch {
	case err == nil:
		destinations = append(destinations, kd)
	case !errors.Is(err, errorutil.ErrNotConfigured):
		return nil, err
	}
	cd, err := export.NewCollectorDestination(config.CollectorURL)
	switch {
	case err == nil:
		destinations = append(destinations, cd)
	case !errors.Is(err, errorutil.ErrNotConfigured):
		return nil, err
	}
	if len(destinations) > 0 {
		e.shipper = export.NewShipper(
			e.snapshotSource,
			config.ShipInterval,
			config.Hostname,
			config.Environment,
			destinations...,
		)
	}
	return &e, nil
}

// mergedCallTree folds the in-process threads and the ingested remote
// threads into one aggregate.
func (e *environment) mergedCallTree() *calltree.Node {
	merged := e.tracer.MergedSnapshot()
	if err := calltree.Accumulate(merged, e.applier.MergedSnapshot()); err != nil {
		log.Error().Err(err).Msg("failed to accumulate ingested call trees")
	}
	return merged
}

func (e *environment) snapshotSource() (*calltree.Node, int) {
	return e.mergedCallTree(), e.tracer.ThreadCount() + e.applier.ThreadCount()
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodGet, "/calltree", e.getCallTree},
		{http.MethodGet, "/calltree/folded", e.getFoldedCallTree},
		{http.MethodGet, "/functions", e.getFunctions},
		{http.MethodPost, "/events", e.postEvents},
		{http.MethodPost, "/reset", e.postReset},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

func main() {
	env, err := newEnvironment()
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	logutil.ConfigureLogger(env.config.Environment)

	err = sentry.Init(sentry.ClientOptions{
		BeforeSendTransaction: httputil.SetHTTPStatusCodeTag,
		Dsn:                   env.config.SentryDSN,
		EnableTracing:         true,
		Environment:           env.config.Environment,
		Release:               release,
		TracesSampleRate:      1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	if env.shipper != nil {
		go env.shipper.Run()
	}

	server := http.Server{
		Addr:    ":" + env.config.Port,
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	waitForShutdown := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	if env.shipper != nil {
		env.shipper.Stop()
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
