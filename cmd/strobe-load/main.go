// strobe-load runs a synthetic instrumented workload against the in-process
// tracing engine and prints the merged call tree, folded, to stdout. It is
// the quickest way to eyeball the engine's output and to exercise it under
// concurrency.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/strobelab/strobe/internal/calltree"
	"github.com/strobelab/strobe/internal/logutil"
	"github.com/strobelab/strobe/internal/tracepoint"
	"github.com/strobelab/strobe/internal/tracer"
)

var (
	tpHandle  = tracepoint.New("load", "handleRequest", 0)
	tpParse   = tracepoint.New("load", "parseRequest", 0)
	tpCompute = tracepoint.New("load", "compute", 0)
	tpStore   = tracepoint.New("load", "store", 0)
)

func main() {
	goroutines := flag.Int("goroutines", 4, "number of concurrent workload goroutines")
	iterations := flag.Int("iterations", 100, "requests to simulate per goroutine")
	work := flag.Duration("work", 100*time.Microsecond, "simulated work per step")
	flag.Parse()

	logutil.ConfigureLogger("development")

	m := tracer.Default()
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(*goroutines)
	for i := 0; i < *goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < *iterations; j++ {
				handleRequest(m, *work)
			}
		}()
	}
	wg.Wait()

	merged := m.MergedSnapshot()
	folded, err := calltree.Folded(merged)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fold merged tree")
	}
	fmt.Fprint(os.Stdout, folded)

	log.Info().
		Int("goroutines", *goroutines).
		Int("iterations", *iterations).
		Int("nodes", merged.NodeCount()).
		Dur("elapsed", time.Since(start)).
		Msg("workload complete")
}

func handleRequest(m *tracer.Manager, work time.Duration) {
	m.Enter(tpHandle)
	defer m.Leave()

	m.Enter(tpParse)
	time.Sleep(work)
	m.Leave()

	m.Enter(tpCompute)
	time.Sleep(work)
	m.Enter(tpStore)
	time.Sleep(work)
	m.Leave()
	m.Leave()
}
