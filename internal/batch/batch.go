// Package batch scans many card images concurrently.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/idscan/internal/extract"
)

// ErrNoInputs is returned when discovery finds nothing to scan.
var ErrNoInputs = errors.New("no supported input files found")

// Processor scans one file.
type Processor interface {
	Process(ctx context.Context, path string) (extract.Record, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, path string) (extract.Record, error)

func (f ProcessorFunc) Process(ctx context.Context, path string) (extract.Record, error) {
	return f(ctx, path)
}

// Config controls discovery and parallelism.
type Config struct {
	Workers         int
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string
}

// Item is the outcome for one file.
type Item struct {
	Path     string
	Record   extract.Record
	Err      error
	Duration time.Duration
}

// Result holds the items in discovery order.
type Result struct {
	Items    []Item
	Duration time.Duration
	Workers  int
}

// Stats summarizes a Result.
type Stats struct {
	Total    int
	Matched  int
	Partial  int
	Failed   int
	Duration time.Duration
}

// Stats counts matched, partial and failed items.
func (r *Result) Stats() Stats {
	s := Stats{Total: len(r.Items), Duration: r.Duration}
	for _, it := range r.Items {
		switch {
		case it.Err != nil:
			s.Failed++
		case it.Record.Terminal():
			s.Matched++
		default:
			s.Partial++
		}
	}
	return s
}

// Run discovers the files under args and scans them with up to
// cfg.Workers goroutines. A failing file is recorded on its Item and does
// not stop the batch; ctx cancellation does.
func Run(ctx context.Context, p Processor, args []string, cfg Config) (*Result, error) {
	paths, err := Discover(args, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrNoInputs
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(paths))

	start := time.Now()
	items := make([]Item, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				t := time.Now()
				rec, err := p.Process(ctx, paths[i])
				items[i] = Item{Path: paths[i], Record: rec, Err: err, Duration: time.Since(t)}
			}
		}()
	}

feed:
	for i := range paths {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}
	return &Result{Items: items, Duration: time.Since(start), Workers: workers}, nil
}
