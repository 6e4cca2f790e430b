// Package coord keeps the served index fresh.
//
// A Builder turns the document store into an index. The Coordinator runs the
// Builder on a cron schedule and publishes each result through a Holder, so
// readers always see either the previous index or the new one.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/abelbrown/storyline/internal/clustering"
	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/metrics"
	"github.com/abelbrown/storyline/internal/otel"
)

// DefaultSchedule rebuilds the index every five minutes.
const DefaultSchedule = "@every 5m"

// ErrBuildPanicked wraps a panic recovered from a build.
var ErrBuildPanicked = errors.New("index build panicked")

// Coordinator manages background index builds.
// Uses context cancellation as the ONLY stop mechanism.
type Coordinator struct {
	builder  IndexBuilder
	holder   *Holder
	schedule cron.Schedule
	spec     string
	events   *otel.Logger
	logger   *log.Logger

	runMu sync.Mutex // one build at a time
	wg    sync.WaitGroup
}

// NewCoordinator validates spec, a standard cron expression or a
// descriptor such as "@every 5m". An empty spec means DefaultSchedule.
func NewCoordinator(b IndexBuilder, h *Holder, spec string, events *otel.Logger) (*Coordinator, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if events == nil {
		events = otel.NewNullLogger()
	}
	return &Coordinator{
		builder:  b,
		holder:   h,
		schedule: sched,
		spec:     spec,
		events:   events,
		logger:   logging.WithPrefix("coord"),
	}, nil
}

// Start builds once immediately, then on every schedule tick until ctx is
// cancelled. Call Wait after cancelling.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		_ = c.RunNow(ctx)

		sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		sched.Schedule(c.schedule, cron.FuncJob(func() {
			_ = c.RunNow(ctx)
		}))
		sched.Start()
		c.logger.Debug("index schedule started", "spec", c.spec)

		<-ctx.Done()
		<-sched.Stop().Done()
	}()
}

// Wait blocks until the background goroutine and any running build exit.
// Call after canceling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// RunNow builds an index and publishes it. On failure the previous index
// stays in place and the error is returned. A panic inside the build is
// recovered and reported as ErrBuildPanicked.
func (c *Coordinator) RunNow(ctx context.Context) (err error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			if e, ok := r.(error); ok {
				err = fmt.Errorf("%w: %w", ErrBuildPanicked, e)
			} else {
				err = fmt.Errorf("%w: %v", ErrBuildPanicked, r)
			}
		}
		if err != nil && result == "ok" {
			result = "error"
			if errors.Is(err, context.Canceled) {
				result = "canceled"
			}
		}
		metrics.RecordBuild(result, time.Since(start))
		if err != nil && result != "canceled" {
			c.logger.Error("index build failed", "result", result, "error", err)
			c.events.Error(otel.KindIndexFailed, otel.CompCoord, err)
		}
	}()

	idx, err := c.builder.Build(ctx)
	if err != nil {
		return err
	}
	c.holder.Store(idx)
	publish(idx)
	return nil
}

func publish(idx *clustering.Index) {
	clusters := make(map[string]int)
	docs := 0
	for lang, st := range idx.Stats() {
		clusters[lang.String()] = st.Clusters
		docs += st.Documents
	}
	metrics.RecordIndex(clusters, docs)
}
