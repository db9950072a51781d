// Package pipeline - Orchestration of the velocimetry run.
//
// The Orchestrator walks a fixed state machine: Idle, Calibrating, Sampling,
// Streaming, Finalizing, Done, with Failed reachable from any non-terminal
// state. Streaming maintains a sliding window over the frame stream and
// emits one velocity field per window; per-cell estimation inside a window
// fans out across a bounded worker pool. Results are identical regardless of
// worker count: cells are independent and smoothing is applied in cell order
// after the workers join.
package pipeline

import (
	"context"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/YetAnotherUser24/awive/calib"
	"github.com/YetAnotherUser24/awive/config"
	"github.com/YetAnotherUser24/awive/frame"
	"github.com/YetAnotherUser24/awive/motion"
	"github.com/YetAnotherUser24/awive/preprocess"
	"github.com/YetAnotherUser24/awive/region"
	"github.com/YetAnotherUser24/awive/velocity"
)

// State is the orchestrator's lifecycle position.
type State int

const (
	Idle State = iota
	Calibrating
	Sampling
	Streaming
	Finalizing
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:        "idle",
	Calibrating: "calibrating",
	Sampling:    "sampling",
	Streaming:   "streaming",
	Finalizing:  "finalizing",
	Done:        "done",
	Failed:      "failed",
}

func (s State) String() string { return stateNames[s] }

// FrameSource supplies decoded raw frames in capture order. Next returns
// io.EOF when the stream is exhausted. Implementations live outside the
// pipeline; util.DirectorySource and util.VideoSource adapt on-disk inputs.
type FrameSource interface {
	Next() (*frame.Frame, error)
}

// Output is everything a run produced. Fields emitted before a failure stay
// available to the caller.
type Output struct {
	// Fields holds one velocity field per processed window, in order.
	Fields []velocity.Field
	// Aggregate is the time-averaged field, set when requested by
	// configuration and at least one window completed.
	Aggregate *velocity.Field
	// Timings reports per-stage wall-clock statistics.
	Timings map[string]StageStats
}

// Orchestrator runs one velocimetry pipeline. Not safe for concurrent Run
// calls; create one orchestrator per run.
type Orchestrator struct {
	cfg    config.Config
	logger *zap.Logger

	formatter *preprocess.Formatter
	estimator motion.Estimator
	smoothing velocity.SmoothingPolicy

	model    *calib.Model
	cells    []region.Cell
	resolver *velocity.Resolver

	timer *stageTimer

	mu      sync.Mutex
	state   State
	failure error
}

// New assembles an orchestrator. The configuration is validated first;
// component construction errors (bad preprocessing, unknown strategy or
// smoothing policy) also surface here, before any frame is read.
func New(cfg config.Config, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	formatter, err := preprocess.NewFormatter(cfg.Preprocess)
	if err != nil {
		return nil, err
	}
	estimator, err := motion.New(cfg.MotionStrategy, cfg.SpaceTime, cfg.Flow)
	if err != nil {
		return nil, err
	}
	smoothing, err := velocity.NewSmoothingPolicy(cfg.SmoothingPolicy, cfg.SmoothingDecay)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		formatter: formatter,
		estimator: estimator,
		smoothing: smoothing,
		timer:     newStageTimer(),
		state:     Idle,
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Failure returns the terminal failure reason, nil unless State is Failed.
func (o *Orchestrator) Failure() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failure
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Info("pipeline state", zap.Stringer("state", s))
}

// fail records the single terminal failure reason and enters Failed.
func (o *Orchestrator) fail(err error) error {
	o.mu.Lock()
	o.state = Failed
	o.failure = err
	o.mu.Unlock()
	o.logger.Error("pipeline failed", zap.Error(err))
	return err
}

// Run executes the pipeline over a frame stream. Cancelling the context
// stops the run after the in-flight window completes; its field is emitted
// and no further windows are processed. On failure the returned Output still
// carries every field emitted so far.
func (o *Orchestrator) Run(ctx context.Context, src FrameSource) (Output, error) {
	out := Output{}

	o.setState(Calibrating)
	pairs, err := o.cfg.ReferencePairs()
	if err != nil {
		return out, o.fail(err)
	}
	model, err := calib.NewModel(pairs)
	if err != nil {
		return out, o.fail(err)
	}
	o.model = model

	resolver, err := velocity.NewResolver(model, o.cfg.ResolverConfig())
	if err != nil {
		return out, o.fail(err)
	}
	o.resolver = resolver

	o.setState(Sampling)
	cells, err := region.Sample(o.formatter.OutputDims(), model, o.cfg.RegionConfig())
	if err != nil {
		return out, o.fail(err)
	}
	o.cells = cells
	o.logger.Info("region sampled",
		zap.Int("cells", len(cells)),
		zap.String("strategy", o.estimator.Name()))

	o.setState(Streaming)
	ring := newFrameRing(o.cfg.WindowSize)
	seen := 0
	lastIndex := -1
	cancelled := false

stream:
	for {
		select {
		case <-ctx.Done():
			cancelled = true
			break stream
		default:
		}

		raw, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return o.partial(out), o.fail(errors.Wrap(err, "pipeline: frame stream"))
		}
		if raw.Index <= lastIndex {
			return o.partial(out), o.fail(errors.Errorf(
				"pipeline: frame index %d not increasing after %d", raw.Index, lastIndex))
		}
		lastIndex = raw.Index

		start := time.Now()
		normalized, err := o.formatter.Apply(raw)
		if err != nil {
			return o.partial(out), o.fail(err)
		}
		o.timer.observe("preprocess", time.Since(start))

		ring.push(normalized)
		seen++

		if !ring.full() || (seen-o.cfg.WindowSize)%o.cfg.WindowStride != 0 {
			continue
		}

		field, err := o.processWindow(ring.window())
		if err != nil {
			return o.partial(out), o.fail(err)
		}
		out.Fields = append(out.Fields, field)
	}

	o.setState(Finalizing)
	if cancelled {
		o.logger.Info("run cancelled", zap.Int("fields", len(out.Fields)))
	}
	if o.cfg.AggregateFinal && len(out.Fields) > 0 {
		agg := velocity.TimeAverage(out.Fields)
		out.Aggregate = &agg
	}

	o.setState(Done)
	out.Timings = o.timer.snapshot()
	o.logger.Info("run complete",
		zap.Int("frames", seen),
		zap.Int("fields", len(out.Fields)))
	return out, nil
}

// partial attaches the timing snapshot to an output being returned on the
// failure path.
func (o *Orchestrator) partial(out Output) Output {
	out.Timings = o.timer.snapshot()
	return out
}

// processWindow estimates and resolves every cell of one window. The field
// is assembled only after all cells complete; a window is never emitted
// partially.
func (o *Orchestrator) processWindow(window []*frame.Frame) (velocity.Field, error) {
	field := velocity.Field{
		WindowStart: window[0].Index,
		Entries:     make(map[string]velocity.Result, len(o.cells)),
	}

	workers := o.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]velocity.Result, len(o.cells))
	errs := make([]error, len(o.cells))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, cell := range o.cells {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, cell region.Cell) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			obs, err := o.estimator.EstimateMotion(window, cell)
			o.timer.observe("estimate", time.Since(start))
			if err != nil {
				errs[i] = err
				return
			}
			start = time.Now()
			results[i] = o.resolver.Resolve(obs, cell)
			o.timer.observe("resolve", time.Since(start))
		}(i, cell)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return velocity.Field{}, err
		}
	}

	// Smoothing folds history in deterministic cell order.
	for i := range results {
		res := o.smoothing.Apply(results[i])
		field.Entries[res.CellID] = res
	}

	o.logger.Debug("window processed",
		zap.Int("windowStart", field.WindowStart),
		zap.Int("cells", len(field.Entries)))
	return field, nil
}
