package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/metrics"
	"github.com/mycelian/cockpit/internal/model"
)

// Result is the merged output of one fan-out.
type Result struct {
	Drafts   []model.Action
	Degraded bool
	Failed   []model.SourceKind
	// Counts holds the number of in-scope drafts per source.
	Counts map[model.SourceKind]int
}

// Runner fans out to every source concurrently with a per-source timeout.
type Runner struct {
	sources []Source
	timeout time.Duration
	clock   clock.Clock
	log     zerolog.Logger
}

func NewRunner(sources []Source, timeout time.Duration, clk clock.Clock, log zerolog.Logger) *Runner {
	return &Runner{sources: sources, timeout: timeout, clock: clk, log: log}
}

type sourceResult struct {
	kind   model.SourceKind
	drafts []model.Action
	err    error
}

// Run never fails: a source that errors or times out contributes nothing and marks
// the result degraded. Calls are detached from ctx cancellation so a caller that
// goes away still lets in-flight fetches complete; only the timeout bounds them.
func (r *Runner) Run(ctx context.Context, q Query) Result {
	base := context.WithoutCancel(ctx)
	now := r.clock.Now()

	results := make([]sourceResult, len(r.sources))
	var wg sync.WaitGroup
	for i, src := range r.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			results[i] = r.fetch(base, src, q, now)
		}(i, src)
	}
	wg.Wait()

	out := Result{Counts: make(map[model.SourceKind]int, len(r.sources))}
	for _, res := range results {
		if res.err != nil {
			out.Degraded = true
			out.Failed = append(out.Failed, res.kind)
			continue
		}
		out.Counts[res.kind] = len(res.drafts)
		out.Drafts = append(out.Drafts, res.drafts...)
	}
	return out
}

func (r *Runner) fetch(ctx context.Context, src Source, q Query, now time.Time) (res sourceResult) {
	kind := src.Kind()
	res.kind = kind

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.AdapterDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			res.drafts = nil
			res.err = errors.New("adapter panic")
			r.log.Error().Str("source", string(kind)).Interface("panic", p).Msg("adapter panicked")
		}
		if res.err != nil {
			reason := "error"
			if errors.Is(res.err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			metrics.AdapterFailures.WithLabelValues(string(kind), reason).Inc()
		}
	}()

	records, err := src.Fetch(ctx, q)
	if err != nil {
		r.log.Warn().Err(err).Str("source", string(kind)).Str("user_id", q.UserID).Msg("adapter failed, continuing degraded")
		res.err = err
		return res
	}
	for _, rec := range records {
		a, ok := Normalize(rec, now)
		if !ok || !q.InScope(a.Wallet) {
			continue
		}
		res.drafts = append(res.drafts, a)
	}
	return res
}
