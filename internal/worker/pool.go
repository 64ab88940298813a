// Package worker runs species map generation on a bounded pool of goroutines.
package worker

import (
	"context"
	"sync"
	"time"
)

// Generator builds the map of one species. atlas.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, species string, force bool) (path string, err error)
}

// Task is one species to generate.
type Task struct {
	Species string
	Force   bool
}

// Result is the outcome of a task.
type Result struct {
	Task    Task
	Path    string
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Generator  Generator
	OnProgress ProgressFunc
}

// Pool runs tasks in parallel.
type Pool struct {
	workers    int
	generator  Generator
	onProgress ProgressFunc
}

// New creates a worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		generator:  cfg.Generator,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and blocks until every task has a result. Tasks not
// started before ctx is done get ctx.Err() as their result, so the result
// slice always has one entry per task.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)

	workers := min(p.workers, len(tasks))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]Result, 0, len(tasks))
	failed := 0
	for result := range resultCh {
		results = append(results, result)
		if result.Err != nil {
			failed++
		}
		if p.onProgress != nil {
			p.onProgress(len(results), len(tasks), failed)
		}
	}

	return results
}

func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			results <- Result{Task: task, Err: err}
			continue
		}

		start := time.Now()
		path, err := p.generator.Generate(ctx, task.Species, task.Force)
		results <- Result{
			Task:    task,
			Path:    path,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
