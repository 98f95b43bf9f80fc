package propagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	Fm "github.com/maroda/fmdrisk/model"
	Ft "github.com/maroda/fmdrisk/types"
)

// Batch collects the runs of one approach.
// Results is in scenario order. An entry is nil only when
// the context was cancelled before that scenario was fed.
type Batch struct {
	ID      string
	Results []*Result
	Failed  []*Result
}

// Completed is the number of runs that finished, failed or not.
func (b *Batch) Completed() int {
	n := 0
	for _, r := range b.Results {
		if r != nil {
			n++
		}
	}
	return n
}

// RunApproach validates every scenario, then runs them on a bounded
// worker pool, each on its own clone. A failed run is recorded in the
// batch and never stops the others.
func (e *Engine) RunApproach(ctx context.Context, nom *Nominal, scenarios []Ft.Scenario) (*Batch, error) {
	return e.RunApproachFunc(ctx, nom, scenarios, nil)
}

// RunApproachFunc is RunApproach with a callback for this batch only.
// onResult runs serially after Engine.OnResult, so concurrent batches
// on one Engine each see only their own runs.
func (e *Engine) RunApproachFunc(ctx context.Context, nom *Nominal, scenarios []Ft.Scenario, onResult func(*Result)) (*Batch, error) {
	plans := make([]plan, len(scenarios))
	for i, sc := range scenarios {
		p, err := e.plan(nom.Graph, sc)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.ID, err)
		}
		plans[i] = p
	}

	batch := &Batch{
		ID:      uuid.NewString(),
		Results: make([]*Result, len(scenarios)),
	}
	if len(scenarios) == 0 {
		return batch, nil
	}

	workers := e.Config.Workers
	if workers > len(scenarios) {
		workers = len(scenarios)
	}

	type done struct {
		i   int
		res *Result
	}
	jobs := make(chan int, workers*2)
	results := make(chan done, workers*2)

	// Workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case i, ok := <-jobs:
					if !ok {
						return
					}
					r := e.run(ctx, nom, scenarios[i], plans[i])
					select {
					case results <- done{i: i, res: r}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	// Collector
	var cwg sync.WaitGroup
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		for d := range results {
			batch.Results[d.i] = d.res
			if e.OnResult != nil {
				e.OnResult(d.res)
			}
			if onResult != nil {
				onResult(d.res)
			}
		}
	}()

	// Feed work
feed:
	for i := range scenarios {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}

	close(jobs)
	wg.Wait()
	close(results)
	cwg.Wait()

	var cfgErr error
	for _, r := range batch.Results {
		if r == nil || r.Err == nil {
			continue
		}
		batch.Failed = append(batch.Failed, r)
		if cfgErr == nil && errors.Is(r.Err, Fm.ErrConfig) {
			cfgErr = fmt.Errorf("scenario %q: %w", r.Scenario.ID, r.Err)
		}
	}

	slog.Info("Batch complete",
		slog.String("batch", batch.ID),
		slog.Int("scenarios", len(scenarios)),
		slog.Int("completed", batch.Completed()),
		slog.Int("failed", len(batch.Failed)))

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, cfgErr
}
