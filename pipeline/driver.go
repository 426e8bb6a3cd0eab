// Package pipeline drives paged input through a chain of compiled stages into
// a sink, swapping arenas when the active one is exhausted.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"bytepipe/arena"
	"bytepipe/core"
	"bytepipe/sink"
	"bytepipe/source"
	"bytepipe/vectorized"
)

// State is the lifecycle state of a Driver.
type State int

const (
	StateIdle State = iota
	StateRunning
	// StateSuspended is held while the active arena is swapped.
	StateSuspended
	StateCompleted
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats summarizes a run.
type Stats struct {
	Chunks         int
	Rows           int
	PagesAllocated int
	PagesFlushed   int
	PagesDiscarded int
	Retries        int
}

type outputArena struct {
	arena     *arena.Arena
	container sink.Container
}

// Driver runs one pipeline instance. It is single-threaded and not safe for
// concurrent use; independent drivers share nothing.
type Driver struct {
	cfg      Config
	supplier arena.Supplier
	routing  *Routing
	datasets []source.Dataset
	sink     sink.Sink
	metrics  *metrics
	tracer   *core.Tracer

	state   State
	nextSeq uint64
	active  outputArena
	// baseUsed is the active arena's usage right after its container was
	// created. An arena still at baseUsed holds nothing but the container.
	baseUsed int
	// pending holds retired arenas awaiting release, oldest first.
	pending []outputArena
	stats   Stats
}

// NewDriver builds a driver for plan. reg may be nil.
func NewDriver(cfg Config, supplier arena.Supplier, plan *Plan, out sink.Sink, reg prometheus.Registerer) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	routing, err := BuildRouting(plan)
	if err != nil {
		return nil, err
	}
	datasets := make([]source.Dataset, len(plan.Inputs))
	for i, in := range plan.Inputs {
		datasets[i] = in.Dataset
	}
	return &Driver{
		cfg:      cfg,
		supplier: supplier,
		routing:  routing,
		datasets: datasets,
		sink:     out,
		metrics:  newMetrics(reg),
		tracer:   core.GetTracer(),
	}, nil
}

// State returns the driver's lifecycle state.
func (d *Driver) State() State { return d.state }

// Stats returns the counters of the current or last run.
func (d *Driver) Stats() Stats { return d.stats }

// Run pushes every page of every input through the stage chain. Every page
// allocated during the run is flushed or discarded before Run returns, even
// when it fails.
func (d *Driver) Run(ctx context.Context) (err error) {
	if d.state != StateIdle {
		return errors.Errorf("driver cannot run in state %s", d.state)
	}
	d.state = StateRunning
	start := time.Now()

	defer func() {
		err = multierr.Append(err, d.shutdown(context.WithoutCancel(ctx)))
		if err != nil {
			d.state = StateFatal
			d.tracer.Error(core.TraceComponentPipeline, "Pipeline failed", core.TraceContext(
				"error", err.Error(),
				"chunks", d.stats.Chunks,
			))
			return
		}
		d.state = StateCompleted
		d.tracer.Info(core.TraceComponentPipeline, "Pipeline completed", core.TraceContext(
			"chunks", d.stats.Chunks,
			"rows", d.stats.Rows,
			"pages_flushed", d.stats.PagesFlushed,
			"pages_discarded", d.stats.PagesDiscarded,
			"retries", d.stats.Retries,
			"elapsed_ms", time.Since(start).Milliseconds(),
		))
	}()

	if err := d.swap(ctx); err != nil {
		return err
	}
	for i, in := range d.routing.Inputs {
		if err := d.runInput(ctx, in, d.datasets[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runInput(ctx context.Context, in InputRange, ds source.Dataset) error {
	d.tracer.Debug(core.TraceComponentPipeline, "Running input", core.TraceContext(
		"input", in.Name,
		"pages", ds.NumPages(),
		"stages", in.End-in.Begin,
	))
	for page := 0; page < ds.NumPages(); page++ {
		src, err := ds.OpenPage(ctx, page, d.cfg.ChunkSize)
		if err != nil {
			return errors.Wrapf(err, "open page %d of input %s", page, in.Name)
		}
		err = d.runPage(ctx, in, src)
		if closeErr := src.Close(); err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "close page %d of input %s", page, in.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runPage(ctx context.Context, in InputRange, src source.BatchSource) error {
	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, source.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read chunk of input %s", in.Name)
		}
		if err := d.runChunk(ctx, in, chunk); err != nil {
			return err
		}
	}
}

// runChunk runs one chunk through the input's stages and writes the output
// stage's batch into the active container.
func (d *Driver) runChunk(ctx context.Context, in InputRange, chunk *vectorized.Batch) error {
	start := time.Now()
	if err := d.releaseRetired(ctx); err != nil {
		return err
	}

	rows := chunk.NumRows()
	outputs := make([]*vectorized.Batch, in.End-in.Begin)
	defer func() {
		for i := len(outputs) - 1; i >= 0; i-- {
			if outputs[i] != nil {
				outputs[i].Release()
			}
		}
		chunk.Release()
	}()

	for slot := in.Begin; slot < in.End; slot++ {
		feed := chunk
		if f := d.routing.Feeds[slot]; f >= 0 {
			feed = outputs[f-in.Begin]
		}
		stage := d.routing.Stages[slot]
		var out *vectorized.Batch
		err := d.withRetry(ctx, d.routing.Names[slot], func() (arena.Status, error) {
			var (
				status arena.Status
				err    error
			)
			out, status, err = stage.Execute(feed, d.active.arena)
			return status, err
		})
		if err != nil {
			return errors.Wrapf(err, "stage %s", d.routing.Names[slot])
		}
		outputs[slot-in.Begin] = out
	}

	if in.Output >= 0 {
		result := outputs[in.Output-in.Begin]
		err := d.withRetry(ctx, "sink", func() (arena.Status, error) {
			return d.sink.WriteOut(result, d.active.container)
		})
		if err != nil {
			return errors.Wrap(err, "sink")
		}
	}

	d.stats.Chunks++
	d.stats.Rows += rows
	d.metrics.chunks.Inc()
	d.metrics.rows.Add(float64(rows))
	d.metrics.chunkDuration.Observe(time.Since(start).Seconds())
	return nil
}

// withRetry calls fn until it consumes its whole input, swapping in a fresh
// arena after every exhaustion. fn must leave only its unprocessed input
// behind when it reports exhaustion. Exhausting an arena that holds nothing
// is fatal: the input can never fit.
func (d *Driver) withRetry(ctx context.Context, what string, fn func() (arena.Status, error)) error {
	for {
		fresh := d.active.arena.Used() == d.baseUsed
		status, err := fn()
		if err != nil {
			return err
		}
		if status == arena.StatusOK {
			return nil
		}
		if fresh {
			return core.Structural(core.TraceComponentPipeline, core.InvalidPlan,
				"%s exhausted an empty %d byte page", what, d.active.arena.Size())
		}
		d.stats.Retries++
		d.metrics.retries.Inc()
		if err := d.swap(ctx); err != nil {
			return err
		}
	}
}

// swap retires the active arena, if any, and activates a fresh one.
func (d *Driver) swap(ctx context.Context) error {
	d.state = StateSuspended
	if d.active.arena != nil {
		d.tracer.Debug(core.TraceComponentArena, "Arena exhausted", core.TraceContext(
			"seq", d.active.arena.Seq(),
			"page", d.active.arena.Page().ID,
			"used", d.active.arena.Used(),
			"rows", d.active.container.NumRows(),
		))
		d.pending = append(d.pending, d.active)
		d.active = outputArena{}
	}

	page, err := d.supplier.Allocate(ctx)
	if err != nil {
		return errors.Wrap(err, "allocate arena page")
	}
	a := arena.New(d.nextSeq, page)
	d.nextSeq++
	d.stats.PagesAllocated++
	d.metrics.arenas.WithLabelValues("allocated").Inc()

	container, err := d.sink.CreateOutputContainer(a)
	if err != nil {
		return multierr.Append(err, d.retirePage(ctx, a.Page(), false))
	}
	d.active = outputArena{arena: a, container: container}
	d.baseUsed = a.Used()
	d.state = StateRunning
	return nil
}

// releaseRetired releases pending arenas older than the active one. It runs
// at chunk boundaries, so an arena is never released during the chunk that
// retired it.
func (d *Driver) releaseRetired(ctx context.Context) error {
	var errs error
	kept := d.pending[:0]
	for _, p := range d.pending {
		if p.arena.Seq() >= d.active.arena.Seq() {
			kept = append(kept, p)
			continue
		}
		errs = multierr.Append(errs, d.release(ctx, p))
	}
	d.pending = kept
	return errs
}

// shutdown force-releases every arena in creation order.
func (d *Driver) shutdown(ctx context.Context) error {
	all := d.pending
	if d.active.arena != nil {
		all = append(all, d.active)
	}
	d.pending, d.active = nil, outputArena{}

	var errs error
	for _, p := range all {
		errs = multierr.Append(errs, d.release(ctx, p))
	}
	return errs
}

// release flushes an arena whose container realized rows and discards one
// that did not.
func (d *Driver) release(ctx context.Context, p outputArena) error {
	page := p.arena.Page()
	if p.container.NumRows() == 0 {
		return d.retirePage(ctx, page, false)
	}
	data, err := p.container.MarshalBinary()
	if err != nil {
		// The page must still be retired.
		return multierr.Append(errors.Wrapf(err, "encode arena %d", p.arena.Seq()), d.retirePage(ctx, page, false))
	}
	page.Data = data
	return d.retirePage(ctx, page, true)
}

func (d *Driver) retirePage(ctx context.Context, page arena.Page, flush bool) error {
	if flush {
		if err := d.supplier.Flush(ctx, page); err != nil {
			return errors.Wrapf(err, "flush page %d", page.ID)
		}
		d.stats.PagesFlushed++
		d.metrics.arenas.WithLabelValues("flushed").Inc()
		return nil
	}
	if err := d.supplier.Discard(ctx, page); err != nil {
		return errors.Wrapf(err, "discard page %d", page.ID)
	}
	d.stats.PagesDiscarded++
	d.metrics.arenas.WithLabelValues("discarded").Inc()
	return nil
}
