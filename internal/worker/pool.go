// Package worker provides a parallel map generation worker pool.
package worker

import (
	"context"
	"sync"
	"time"
)

// Generator is the interface for map generation.
// This matches the signature of pipeline.Generator.Generate.
type Generator interface {
	Generate(ctx context.Context, source string, force bool) (outputs []string, err error)
}

// Task is one source image to process.
type Task struct {
	Source string
	Force  bool
}

// Result represents the outcome of a task.
type Result struct {
	Task    Task
	Outputs []string
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called with each result as it arrives; completed counts it.
type ProgressFunc func(r Result, completed, total int)

// Config configures the worker pool.
type Config struct {
	Workers   int
	Generator Generator
	// TaskTimeout bounds a single Generate call; zero means no limit.
	TaskTimeout time.Duration
	OnProgress  ProgressFunc
}

// Pool manages parallel map generation.
type Pool struct {
	generator   Generator
	onProgress  ProgressFunc
	workers     int
	taskTimeout time.Duration
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:     workers,
		generator:   cfg.Generator,
		taskTimeout: cfg.TaskTimeout,
		onProgress:  cfg.OnProgress,
	}
}

// Run executes all tasks and returns one result per task, in completion order.
// Tasks are processed in parallel by the configured number of workers.
// Once ctx is cancelled the remaining tasks are reported with ctx.Err().
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	// Feed tasks
	go func() {
		defer close(taskCh)
		for i, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				for _, t := range tasks[i:] {
					resultCh <- Result{Task: t, Err: ctx.Err()}
				}
				return
			}
		}
	}()

	results := make([]Result, 0, len(tasks))
	for len(results) < len(tasks) {
		result := <-resultCh
		results = append(results, result)
		if p.onProgress != nil {
			p.onProgress(result, len(results), len(tasks))
		}
	}

	wg.Wait()
	return results
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			results <- Result{Task: task, Err: err}
			continue
		}

		start := time.Now()
		outputs, err := p.generate(ctx, task)
		results <- Result{
			Task:    task,
			Outputs: outputs,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}
}

func (p *Pool) generate(ctx context.Context, task Task) ([]string, error) {
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}
	return p.generator.Generate(ctx, task.Source, task.Force)
}
