package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/kheap/heap/buddy"
	"github.com/joshuapare/kheap/internal/logger"
	"github.com/joshuapare/kheap/internal/metrics"
	"github.com/joshuapare/kheap/mm"
)

// stressOptions holds the stress command flags.
type stressOptions struct {
	Workers     int
	Ops         int
	Seed        uint64
	MaxSize     uint32
	Heap        string
	MetricsAddr string
	Linger      time.Duration
}

var stressOpts = stressOptions{Workers: 4, Ops: 10000, Seed: 1, MaxSize: 1024, Heap: "both"}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run a concurrent random workload against the heaps",
	Long: `The stress command starts several workers that allocate, fill, verify and
free blocks at random on the kernel and user heaps. When every worker has
released its blocks the command checks that both heaps are whole again and
that their free lists are consistent.

With --metrics-addr the heap collector is served on /metrics for the
duration of the run, plus --linger.

Example:
  kheapctl stress --workers 8 --ops 100000
  kheapctl stress --heap user --max-size 4096 --seed 42
  kheapctl stress --metrics-addr :9102 --linger 30s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runStress(ctx, stressOpts)
	},
}

func init() {
	addStressFlags(stressCmd.Flags(), &stressOpts)
	rootCmd.AddCommand(stressCmd)
}

func addStressFlags(f *pflag.FlagSet, o *stressOptions) {
	f.IntVarP(&o.Workers, "workers", "w", o.Workers, "Number of concurrent workers")
	f.IntVarP(&o.Ops, "ops", "n", o.Ops, "Operations per worker")
	f.Uint64Var(&o.Seed, "seed", o.Seed, "Random seed")
	f.Uint32Var(&o.MaxSize, "max-size", o.MaxSize, "Largest request in bytes")
	f.StringVar(&o.Heap, "heap", o.Heap, "Heap to exercise: kernel, user or both")
	f.StringVar(&o.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.DurationVar(&o.Linger, "linger", 0, "Keep serving metrics this long after the run")
}

// stressResult is the outcome of a stress run.
type stressResult struct {
	Workers  int               `json:"workers"`
	Ops      int               `json:"ops"`
	Elapsed  time.Duration     `json:"elapsed_ns"`
	Heaps    []heapReport      `json:"heaps"`
	Counters map[string]uint64 `json:"counters"`
}

// live is a block held by a worker, with the byte its payload was filled with.
type live struct {
	heap mm.Selector
	ptr  buddy.Ptr
	fill byte
}

func stressHeaps(name string) ([]mm.Selector, error) {
	if name == "both" {
		return []mm.Selector{mm.Kernel, mm.User}, nil
	}
	sel, err := mm.ParseSelector(name)
	if err != nil {
		return nil, err
	}
	return []mm.Selector{sel}, nil
}

// stressWorker runs ops random operations and frees whatever it still holds.
func stressWorker(ctx context.Context, sys *mm.System, id int, opts stressOptions, heaps []mm.Selector) error {
	rng := rand.New(rand.NewPCG(opts.Seed, uint64(id)))
	var held []live

	release := func(i int) error {
		b := held[i]
		data, err := sys.Bytes(b.heap, b.ptr)
		if err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		for j, c := range data {
			if c != b.fill {
				return fmt.Errorf("worker %d: block %#x byte %d is %#x, want %#x", id, uint32(b.ptr), j, c, b.fill)
			}
		}
		if err := sys.Free(b.heap, b.ptr); err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		held[i] = held[len(held)-1]
		held = held[:len(held)-1]
		return nil
	}

	for n := 0; n < opts.Ops; n++ {
		if n%256 == 0 && ctx.Err() != nil {
			break
		}
		if len(held) > 0 && rng.IntN(2) == 0 {
			if err := release(rng.IntN(len(held))); err != nil {
				return err
			}
			continue
		}

		sel := heaps[rng.IntN(len(heaps))]
		p, err := sys.Alloc(sel, rng.Uint32N(opts.MaxSize+1))
		if errors.Is(err, buddy.ErrOutOfMemory) {
			continue
		}
		if err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		data, err := sys.Bytes(sel, p)
		if err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		fill := byte(rng.Uint32())
		for j := range data {
			data[j] = fill
		}
		held = append(held, live{heap: sel, ptr: p, fill: fill})
	}

	for len(held) > 0 {
		if err := release(len(held) - 1); err != nil {
			return err
		}
	}
	return nil
}

// verifyWhole checks that every heap is back to a single free block.
func verifyWhole(sys *mm.System) error {
	for _, h := range sys.Heaps() {
		if err := h.Check(); err != nil {
			return err
		}
		if free, total := h.FreeCapacity(), h.Capacity(); free != total {
			return fmt.Errorf("%s heap: %d of %d bytes free after run", h.Name(), free, total)
		}
		if n := h.Stats().InUseBlocks; n != 0 {
			return fmt.Errorf("%s heap: %d blocks still in use after run", h.Name(), n)
		}
	}
	return nil
}

func serveMetrics(g *errgroup.Group, addr string, sys *mm.System) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(sys.Heaps()...))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return srv
}

func runStress(ctx context.Context, opts stressOptions) error {
	if opts.Workers < 1 || opts.Ops < 0 {
		return fmt.Errorf("workers must be positive and ops non-negative")
	}
	if opts.MaxSize == math.MaxUint32 {
		return fmt.Errorf("max-size must be below %d", uint32(math.MaxUint32))
	}
	heaps, err := stressHeaps(opts.Heap)
	if err != nil {
		return err
	}

	sys, err := openSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	var server errgroup.Group
	var srv *http.Server
	if opts.MetricsAddr != "" {
		srv = serveMetrics(&server, opts.MetricsAddr, sys)
	}

	printVerbose("Running %d workers x %d ops on %v\n", opts.Workers, opts.Ops, heaps)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < opts.Workers; id++ {
		g.Go(func() error {
			return stressWorker(gctx, sys, id, opts, heaps)
		})
	}
	runErr := g.Wait()
	elapsed := time.Since(start)

	if srv != nil {
		if runErr == nil && opts.Linger > 0 {
			printVerbose("Serving metrics for another %s\n", opts.Linger)
			select {
			case <-time.After(opts.Linger):
			case <-ctx.Done():
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
		if err := server.Wait(); err != nil && runErr == nil {
			runErr = fmt.Errorf("metrics server: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if err := verifyWhole(sys); err != nil {
		return err
	}

	res := stressResult{Workers: opts.Workers, Ops: opts.Ops, Elapsed: elapsed, Counters: map[string]uint64{}}
	for _, h := range sys.Heaps() {
		res.Heaps = append(res.Heaps, reportHeap(h, false))
		st := h.Stats()
		res.Counters[h.Name()+"_allocs"] = st.AllocCalls
		res.Counters[h.Name()+"_failures"] = st.Failures
		res.Counters[h.Name()+"_frees"] = st.FreeCalls
		res.Counters[h.Name()+"_splits"] = st.Splits
		res.Counters[h.Name()+"_merges"] = st.Merges
	}
	logger.Info("stress run complete", "workers", opts.Workers, "ops", opts.Ops, "elapsed", elapsed)

	if jsonOut {
		return printJSON(res)
	}

	printInfo("Stress run finished in %s; both heaps whole and consistent\n", elapsed.Round(time.Millisecond))
	td := pterm.TableData{{"Heap", "Allocs", "Failures", "Frees", "Splits", "Merges"}}
	for _, h := range sys.Heaps() {
		st := h.Stats()
		td = append(td, []string{
			h.Name(),
			numbers.Sprintf("%d", st.AllocCalls),
			numbers.Sprintf("%d", st.Failures),
			numbers.Sprintf("%d", st.FreeCalls),
			numbers.Sprintf("%d", st.Splits),
			numbers.Sprintf("%d", st.Merges),
		})
	}
	return printTable(td)
}
