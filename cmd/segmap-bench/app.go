package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/llxisdsh/segmap"
	"github.com/llxisdsh/segmap/confloader"
	"github.com/llxisdsh/segmap/internal/stress"
	"github.com/llxisdsh/segmap/segmapprom"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "segmap-bench",
		Usage:   "concurrent workload generator for segmap",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			runCommand(),
			verifyCommand(),
			configCommand(),
		},
		Before: func(c *cli.Context) error {
			level := hclog.LevelFromString(c.String("log-level"))
			if level == hclog.NoLevel {
				return fmt.Errorf("unknown log level %q", c.String("log-level"))
			}
			c.App.Metadata["logger"] = hclog.New(&hclog.LoggerOptions{
				Name:   "segmap-bench",
				Level:  level,
				Output: c.App.ErrWriter,
			})
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML file with the map configuration",
			EnvVars: []string{"SEGMAP_BENCH_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level: trace, debug, info, warn, error",
			Value: "info",
		},
		&cli.IntFlag{
			Name:  "expected-items",
			Usage: "override expected_items of the map configuration",
		},
		&cli.IntFlag{
			Name:  "concurrency-level",
			Usage: "override concurrency_level of the map configuration",
		},
		&cli.BoolFlag{
			Name:  "auto-shrink",
			Usage: "override auto_shrink of the map configuration",
		},
	}
}

func workloadFlags() []cli.Flag {
	def := stress.DefaultConfig()
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "number of concurrent workers",
			Value:   def.Workers,
		},
		&cli.IntFlag{
			Name:    "keys",
			Aliases: []string{"k"},
			Usage:   "keys owned by each worker",
			Value:   def.KeysPerWorker,
		},
		&cli.IntFlag{
			Name:  "ops",
			Usage: "operations per worker",
			Value: def.Ops,
		},
		&cli.Float64Flag{
			Name:  "read-ratio",
			Usage: "fraction of operations that are reads",
			Value: def.ReadRatio,
		},
		&cli.StringFlag{
			Name:  "key-type",
			Usage: "map variant: long or string",
			Value: string(def.KeyType),
		},
		&cli.Float64Flag{
			Name:  "rate",
			Usage: "maximum operations per second over all workers, 0 for unlimited",
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "seed of the operation sequence",
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "fill the map, then run the mixed workload",
		Flags: append(workloadFlags(),
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address while running, e.g. :9090",
			},
			&cli.BoolFlag{
				Name:  "no-fill",
				Usage: "start the workload on an empty map",
			},
		),
		Action: runAction,
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:   "verify",
		Usage:  "fill the map concurrently and check every key",
		Flags:  workloadFlags(),
		Action: verifyAction,
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "print the resolved map configuration",
		Action: configAction,
	}
}

func logger(c *cli.Context) hclog.Logger {
	if l, ok := c.App.Metadata["logger"].(hclog.Logger); ok {
		return l
	}
	return hclog.NewNullLogger()
}

// loadMapConfig resolves the map configuration: defaults, then the config
// file, then SEGMAP_ environment variables, then explicitly set flags.
func loadMapConfig(c *cli.Context) (segmap.MapConfig, error) {
	l := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithLogger(logger(c).Named("config")),
	)
	overrides := make(map[string]any)
	if c.IsSet("expected-items") {
		overrides["expected_items"] = c.Int("expected-items")
	}
	if c.IsSet("concurrency-level") {
		overrides["concurrency_level"] = c.Int("concurrency-level")
	}
	if c.IsSet("auto-shrink") {
		overrides["auto_shrink"] = c.Bool("auto-shrink")
	}
	if len(overrides) > 0 {
		l.LoadMap(overrides)
	}
	return l.Load()
}

func workloadConfig(c *cli.Context) stress.Config {
	return stress.Config{
		Workers:       c.Int("workers"),
		KeysPerWorker: c.Int("keys"),
		Ops:           c.Int("ops"),
		ReadRatio:     c.Float64("read-ratio"),
		KeyType:       stress.KeyType(c.String("key-type")),
		Rate:          c.Float64("rate"),
		Seed:          c.Uint64("seed"),
	}
}

func newRunner(c *cli.Context) (*stress.Runner, stress.Target, error) {
	log := logger(c)
	mapCfg, err := loadMapConfig(c)
	if err != nil {
		return nil, nil, err
	}
	cfg := workloadConfig(c)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	target, err := stress.NewTarget(cfg,
		segmap.WithConfig(mapCfg),
		segmap.WithLogger(log.Named("map")),
	)
	if err != nil {
		return nil, nil, err
	}
	r, err := stress.NewRunner(cfg, target, log.Named("stress"))
	if err != nil {
		return nil, nil, err
	}
	return r, target, nil
}

func runAction(c *cli.Context) error {
	r, target, err := newRunner(c)
	if err != nil {
		return err
	}

	if addr := c.String("metrics-addr"); addr != "" {
		stop, err := serveMetrics(addr, target, logger(c))
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx := c.Context
	if !c.Bool("no-fill") {
		if err := r.Fill(ctx); err != nil {
			return err
		}
	}
	res, err := r.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "ops:       %d\n", res.Ops)
	fmt.Fprintf(c.App.Writer, "ops/sec:   %.0f\n", res.OpsPerSecond())
	fmt.Fprintf(c.App.Writer, "reads:     %d (hits %d, misses %d)\n", res.Reads, res.Hits, res.Misses)
	fmt.Fprintf(c.App.Writer, "puts:      %d\n", res.Puts)
	fmt.Fprintf(c.App.Writer, "removes:   %d\n", res.Removes)
	fmt.Fprintf(c.App.Writer, "elapsed:   %s\n", res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(c.App.Writer, "size:      %d\n", res.Size)
	fmt.Fprint(c.App.Writer, target.Stats().ToString())
	return nil
}

func verifyAction(c *cli.Context) error {
	r, target, err := newRunner(c)
	if err != nil {
		return err
	}
	if err := r.Fill(c.Context); err != nil {
		return err
	}
	if err := r.Verify(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "ok: %d keys verified\n", target.Size())
	return nil
}

func configAction(c *cli.Context) error {
	cfg, err := loadMapConfig(c)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "expected_items:    %d\n", cfg.ExpectedItems)
	fmt.Fprintf(w, "concurrency_level: %d\n", cfg.ConcurrencyLevel)
	fmt.Fprintf(w, "fill_factor:       %v\n", cfg.FillFactor)
	fmt.Fprintf(w, "idle_factor:       %v\n", cfg.IdleFactor)
	fmt.Fprintf(w, "expand_factor:     %v\n", cfg.ExpandFactor)
	fmt.Fprintf(w, "shrink_factor:     %v\n", cfg.ShrinkFactor)
	fmt.Fprintf(w, "auto_shrink:       %v\n", cfg.AutoShrink)
	return nil
}

// serveMetrics exposes the target's statistics and the Go runtime metrics
// on addr. The returned function shuts the server down.
func serveMetrics(addr string, target stress.Target, log hclog.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		segmapprom.NewCollector("bench", target),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}, nil
}
