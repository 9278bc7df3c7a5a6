// Package dispatch routes tasks to workers through the registry. The
// dispatcher is thin: it resolves a routing hint to worker names, bounds
// every invocation with a deadline, and collects the results.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/hivemind/worker"
)

// DefaultTimeout bounds worker calls when the task carries no deadline.
const DefaultTimeout = 30 * time.Second

// Route is a task routing hint. Exactly one field should be set; when more
// than one is set the most specific wins (worker, then workers, then
// capability).
type Route struct {
	// Worker targets a single worker by name.
	Worker string
	// Workers targets an explicit ordered list.
	Workers []string
	// Capability targets every worker declaring the capability tag.
	Capability string
}

// Dispatcher invokes workers via the registry.
type Dispatcher struct {
	registry *worker.Registry
	logger   *slog.Logger
	timeout  time.Duration
}

// New creates a dispatcher over the registry.
func New(registry *worker.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		timeout:  DefaultTimeout,
	}
}

// Resolve expands a routing hint into worker names.
func (d *Dispatcher) Resolve(route Route) ([]string, error) {
	switch {
	case route.Worker != "":
		return []string{route.Worker}, nil
	case len(route.Workers) > 0:
		return route.Workers, nil
	case route.Capability != "":
		names := d.registry.ByCapability(route.Capability)
		if len(names) == 0 {
			return nil, fmt.Errorf("no worker serves capability %q", route.Capability)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("empty route")
	}
}

// Dispatch routes the task and returns one result per resolved worker, in
// submission order. Multi-worker invocation is sequential unless the task is
// marked parallel, in which case workers run concurrently and results are
// still reported in submission order.
func (d *Dispatcher) Dispatch(ctx context.Context, route Route, task worker.Task) ([]worker.Result, error) {
	names, err := d.Resolve(route)
	if err != nil {
		return nil, err
	}

	if task.Parallel && len(names) > 1 {
		return d.parallel(ctx, names, task), nil
	}

	results := make([]worker.Result, len(names))
	for i, name := range names {
		results[i] = d.invoke(ctx, name, task)
	}
	return results, nil
}

func (d *Dispatcher) parallel(ctx context.Context, names []string, task worker.Task) []worker.Result {
	results := make([]worker.Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			results[i] = d.invoke(gctx, name, task)
			return nil
		})
	}
	// Workers never return errors through the group; failures live in the
	// results.
	_ = g.Wait()
	return results
}

// invoke runs one worker call bounded by the task deadline. A worker that
// outlives the deadline produces a synthetic timeout result; the late real
// result is discarded.
func (d *Dispatcher) invoke(ctx context.Context, name string, task worker.Task) worker.Result {
	deadline := task.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(d.timeout)
	}
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := time.Now()
	timeoutResult := func() worker.Result {
		d.logger.Warn("worker call timed out",
			slog.String("worker", name),
			slog.String("task_id", task.ID))
		return worker.Result{
			TaskID:     task.ID,
			WorkerName: name,
			Error:      "deadline exceeded",
			ErrorKind:  worker.KindTimeout,
			Duration:   time.Since(start),
		}
	}
	if callCtx.Err() != nil {
		return timeoutResult()
	}

	done := make(chan worker.Result, 1)
	go func() {
		done <- d.registry.Execute(callCtx, name, task)
	}()

	select {
	case result := <-done:
		return result
	case <-callCtx.Done():
		return timeoutResult()
	}
}
