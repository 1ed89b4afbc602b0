package stress

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Result summarizes a Run.
type Result struct {
	Ops     int64
	Reads   int64
	Hits    int64
	Misses  int64
	Puts    int64
	Removes int64
	Elapsed time.Duration
	// Size is the map size once every worker has stopped.
	Size int
}

// OpsPerSecond returns the measured throughput.
func (r Result) OpsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// Runner executes a workload against one Target.
type Runner struct {
	cfg     Config
	target  Target
	limiter *rate.Limiter
	log     hclog.Logger
}

// NewRunner validates cfg and returns a Runner. A nil logger discards
// output.
func NewRunner(cfg Config, target Target, logger hclog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: nil target", ErrInvalidConfig)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Runner{cfg: cfg, target: target, log: logger}
	if cfg.Rate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, int(cfg.Rate/100)))
	}
	return r, nil
}

func (r *Runner) base(worker int) uint64 {
	return uint64(worker) * uint64(r.cfg.KeysPerWorker)
}

func (r *Runner) wait(ctx context.Context) error {
	if r.limiter == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// Fill inserts every key of every worker, concurrently.
func (r *Runner) Fill(ctx context.Context) error {
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := range r.cfg.Workers {
		g.Go(func() error {
			base := r.base(w)
			for i := range uint64(r.cfg.KeysPerWorker) {
				if err := r.wait(ctx); err != nil {
					return err
				}
				r.target.Put(base + i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	r.log.Info("fill finished",
		"keys", r.cfg.totalKeys(),
		"size", r.target.Size(),
		"elapsed", time.Since(start))
	return nil
}

// Verify checks that every key holds its own index and that the map holds
// nothing else. It is meant to follow Fill.
func (r *Runner) Verify() error {
	for w := range r.cfg.Workers {
		base := r.base(w)
		for i := range uint64(r.cfg.KeysPerWorker) {
			v, ok := r.target.Get(base + i)
			if !ok {
				return fmt.Errorf("verify: key %d missing", base+i)
			}
			if v != base+i {
				return fmt.Errorf("verify: key %d holds %d", base+i, v)
			}
		}
	}
	if size, want := r.target.Size(), r.cfg.totalKeys(); size != want {
		return fmt.Errorf("verify: size %d, want %d", size, want)
	}
	return nil
}

// Run executes Ops random operations per worker, each restricted to the
// worker's own key range. Any read that returns a value other than the
// key's index fails the run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var reads, hits, puts, removes atomic.Int64
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := range r.cfg.Workers {
		g.Go(func() error {
			rnd := rand.New(rand.NewPCG(r.cfg.Seed, uint64(w)))
			base := r.base(w)
			var nReads, nHits, nPuts, nRemoves int64
			defer func() {
				reads.Add(nReads)
				hits.Add(nHits)
				puts.Add(nPuts)
				removes.Add(nRemoves)
			}()
			for range r.cfg.Ops {
				if err := r.wait(ctx); err != nil {
					return err
				}
				i := base + rnd.Uint64N(uint64(r.cfg.KeysPerWorker))
				switch {
				case rnd.Float64() < r.cfg.ReadRatio:
					nReads++
					if v, ok := r.target.Get(i); ok {
						if v != i {
							return fmt.Errorf("key %d holds %d", i, v)
						}
						nHits++
					}
				case rnd.IntN(2) == 0:
					nPuts++
					r.target.Put(i)
				default:
					nRemoves++
					r.target.Remove(i)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	res := Result{
		Reads:   reads.Load(),
		Hits:    hits.Load(),
		Puts:    puts.Load(),
		Removes: removes.Load(),
		Elapsed: time.Since(start),
		Size:    r.target.Size(),
	}
	res.Misses = res.Reads - res.Hits
	res.Ops = res.Reads + res.Puts + res.Removes
	if err != nil {
		return res, fmt.Errorf("run: %w", err)
	}

	stats := r.target.Stats()
	r.log.Info("run finished",
		"ops", res.Ops,
		"ops_per_sec", int64(res.OpsPerSecond()),
		"hits", res.Hits,
		"misses", res.Misses,
		"size", res.Size,
		"capacity", stats.Capacity,
		"growths", stats.TotalGrowths,
		"shrinks", stats.TotalShrinks)
	return res, nil
}
