package media

import (
	"context"
	"sync"
	"time"

	"adwatch/pkg/logger"
)

// Result is the outcome of resolving one ref.
type Result struct {
	Ref      Ref
	Path     string
	Err      error
	Duration time.Duration
}

// Resolver resolves media refs to local paths.
type Resolver interface {
	EnsureLocal(ctx context.Context, ref Ref) (string, error)
}

// ResolveBatch resolves a set of refs through the resolver with bounded
// concurrency. A single competitor can carry dozens of ads pointing at a
// handful of creatives; the store's per-fingerprint coordination keeps
// parallel workers from downloading the same artifact twice.
func ResolveBatch(ctx context.Context, resolver Resolver, refs []Ref, workers int, log logger.Logger) []Result {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	jobs := make(chan Ref)
	results := make(chan Result, len(refs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for ref := range jobs {
				start := time.Now()
				path, err := resolver.EnsureLocal(ctx, ref)
				results <- Result{Ref: ref, Path: path, Err: err, Duration: time.Since(start)}
				if err != nil {
					log.WarnWithFields("media resolve failed", map[string]interface{}{
						"worker_id": id,
						"ad_id":     ref.AdID,
						"error":     err.Error(),
					})
				}
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for _, ref := range refs {
			select {
			case jobs <- ref:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	out := make([]Result, 0, len(refs))
	for r := range results {
		out = append(out, r)
	}
	return out
}
