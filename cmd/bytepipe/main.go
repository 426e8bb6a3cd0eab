// Command bytepipe sums the value column of a parquet file by key. Rows may
// be filtered with a SQL predicate; partial aggregates are paged to a file
// and merged when the run completes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"bytepipe/arena"
	"bytepipe/core"
	"bytepipe/expr"
	"bytepipe/pipeline"
	"bytepipe/planner"
	"bytepipe/sink"
	"bytepipe/source"
	"bytepipe/vectorized"
)

// record is the row layout read from the input file.
type record struct {
	Key   string `parquet:"key"`
	Value int64  `parquet:"value"`
}

type config struct {
	Pipeline pipeline.Config `yaml:"pipeline"`
	Arena    arena.Config    `yaml:"arena"`

	Input       string `yaml:"input"`
	Output      string `yaml:"output"`
	Where       string `yaml:"where"`
	NumNodes    int    `yaml:"num_nodes"`
	PerNode     int    `yaml:"partitions_per_node"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

func (cfg *config) RegisterFlags(f *flag.FlagSet) {
	cfg.Pipeline.RegisterFlags(f)
	cfg.Arena.RegisterFlags(f)
	f.StringVar(&cfg.Input, "input", "", "Parquet file to read, a local path or an http(s) URL.")
	f.StringVar(&cfg.Output, "output", "bytepipe.pages", "File receiving flushed aggregate pages.")
	f.StringVar(&cfg.Where, "where", "", "Optional SQL predicate over key and value, e.g. \"key = 'a'\".")
	f.IntVar(&cfg.NumNodes, "aggregate.nodes", 1, "Number of nodes the aggregate is partitioned across.")
	f.IntVar(&cfg.PerNode, "aggregate.partitions-per-node", 4, "Partitions per node.")
	f.StringVar(&cfg.MetricsAddr, "metrics.addr", "", "Address to serve /metrics on while running. Empty disables it.")
	f.StringVar(&cfg.LogLevel, "log.level", "info", "Log level: off, error, warn, info or debug.")
}

func (cfg *config) Validate() error {
	if cfg.Input == "" {
		return errors.New("-input is required")
	}
	if cfg.Output == "" {
		return errors.New("-output is required")
	}
	if err := cfg.Arena.Validate(); err != nil {
		return errors.Wrap(err, "invalid arena config")
	}
	return cfg.Pipeline.Validate()
}

func main() {
	var (
		cfg        config
		configFile string
	)
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configFile, "config.file", "", "YAML configuration file to load. Flags override its values.")
	cfg.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	if configFile != "" {
		if err := readConfig(configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error loading config %s: %v\n", configFile, err)
			os.Exit(1)
		}
		// Explicit flags win over the file.
		_ = fs.Parse(os.Args[1:])
	}

	tracer := core.GetTracer()
	tracer.SetLevel(core.ParseTraceLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	totals, err := run(ctx, cfg)
	if err != nil {
		tracer.Error(core.TraceComponentPipeline, "Run failed", core.TraceContext("error", err.Error()))
		fmt.Fprintf(os.Stderr, "bytepipe: %v\n", err)
		os.Exit(1)
	}
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Printf("%s\t%d\n", k, totals[k])
	}
}

func readConfig(filename string, cfg *config) error {
	buf, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return errors.Wrap(err, "parse config file")
	}
	return nil
}

func run(ctx context.Context, cfg config) (map[string]int64, error) {
	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				core.GetTracer().Warn(core.TraceComponentPipeline, "Metrics server stopped", core.TraceContext("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ds, err := source.OpenParquet[record](ctx, cfg.Input, "record")
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	plan, err := buildPlan(ds, cfg.Where)
	if err != nil {
		return nil, err
	}
	sum := func(a, b int64) int64 { return a + b }
	agg, err := sink.NewAggregate[string, int64](0, 1, cfg.NumNodes, cfg.PerNode, sum, nil)
	if err != nil {
		return nil, err
	}

	supplier, err := arena.NewFileSupplier(cfg.Output, cfg.Arena)
	if err != nil {
		return nil, err
	}
	driver, err := pipeline.NewDriver(cfg.Pipeline, supplier, plan, agg, reg)
	if err != nil {
		supplier.Close()
		return nil, err
	}
	runErr := driver.Run(ctx)
	if err := supplier.Close(); err != nil && runErr == nil {
		runErr = errors.Wrap(err, "close page file")
	}
	if runErr != nil {
		return nil, runErr
	}

	pages, err := arena.ReadPageFile(cfg.Output, int(cfg.Arena.PageSize.Bytes()))
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	if len(pages) == 0 {
		return totals, nil
	}
	containers := make([]*sink.AggregateContainer[string, int64], 0, len(pages))
	for _, p := range pages {
		c, err := sink.UnmarshalAggregate[string, int64](p.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "decode page %d", p.ID)
		}
		containers = append(containers, c)
	}
	merged, err := sink.MergeAggregates(sum, containers...)
	if err != nil {
		return nil, err
	}
	for _, node := range merged.Partitions {
		for _, part := range node {
			for k, v := range part.Entries {
				totals[k] = v
			}
		}
	}
	return totals, nil
}

// buildPlan chains an optional filter and the key and value projections.
func buildPlan(ds source.Dataset, where string) (*pipeline.Plan, error) {
	comp := &expr.Computation{}
	var stages []*pipeline.Node
	schema := ds.Schema()

	if where != "" {
		rows := comp.AddInput("records", schema)
		bindings := map[string]planner.Field{
			"key":   planner.NewField[string](expr.Attribute(expr.Input(rows, "record"), "key", func(r record) string { return r.Key })),
			"value": planner.NewField[int64](expr.Attribute(expr.Input(rows, "record"), "value", func(r record) int64 { return r.Value })),
		}
		predicate, err := planner.ParsePredicate(where, bindings)
		if err != nil {
			return nil, err
		}
		filter, err := expr.CompileSelection(predicate, comp, schema)
		if err != nil {
			return nil, err
		}
		stages = append(stages, &pipeline.Node{Name: "filter", Stage: pipeline.ExecStage(filter)})
		schema = filter.Schema
	}

	in := comp.AddInput("filtered", schema)
	key, err := expr.CompileTree(
		expr.Attribute(expr.Input(in, "record"), "key", func(r record) string { return r.Key }),
		comp, vectorized.Attributes{"record"})
	if err != nil {
		return nil, err
	}
	keyed := comp.AddInput("keyed", key.Schema)
	value, err := expr.CompileTree(
		expr.Attribute(expr.Input(keyed, "record"), "value", func(r record) int64 { return r.Value }),
		comp, vectorized.Attributes{"record.key"})
	if err != nil {
		return nil, err
	}
	stages = append(stages,
		&pipeline.Node{Name: "key", Stage: pipeline.ExecStage(key)},
		&pipeline.Node{Name: "value", Stage: pipeline.ExecStage(value)},
	)
	for i := 0; i+1 < len(stages); i++ {
		stages[i].Consumers = []*pipeline.Node{stages[i+1]}
	}
	return &pipeline.Plan{
		Inputs: []*pipeline.Input{{Name: "records", Dataset: ds, Consumers: stages[:1]}},
		Output: stages[len(stages)-1],
	}, nil
}
