package jobs

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackzampolin/tome/internal/enrich"
	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// BatchItemError records one failed batch position.
type BatchItemError struct {
	Index int              `json:"index"`
	Input enrich.BookQuery `json:"input"`
	Error string           `json:"error"`
}

// BatchResult is the complete payload of a batch_enrichment job.
type BatchResult struct {
	Results     []enrich.BookResult `json:"results"`
	Errors      []BatchItemError    `json:"errors"`
	SuccessRate string              `json:"successRate"`
}

// StartBatchEnrichment validates the batch and launches the pipeline.
func (r *Runner) StartBatchEnrichment(ctx context.Context, books []enrich.BookQuery) (StartedJob, error) {
	if len(books) == 0 {
		return StartedJob{}, tomerr.New(tomerr.CodeEmptyBatch, "batch contains no books")
	}
	if max := r.cfg.MaxBatchSize; max > 0 && len(books) > max {
		return StartedJob{}, tomerr.Newf(tomerr.CodeInvalidQuery, "batch exceeds %d items", max)
	}

	actor, job, err := r.launch(ctx, progress.PipelineBatchEnrichment, len(books))
	if err != nil {
		return StartedJob{}, err
	}
	go r.run(actor, func(ctx context.Context) {
		r.batchEnrichment(ctx, actor, books)
	})
	return job, nil
}

func (r *Runner) batchEnrichment(ctx context.Context, a *progress.Actor, books []enrich.BookQuery) {
	rpc := context.Background()
	if err := a.MarkRunning(rpc); err != nil {
		return
	}

	// The deadline is a hard stop; the cancel flag only blocks new launches.
	workCtx, cancel := context.WithTimeout(ctx, r.cfg.BatchTimeout())
	defer cancel()

	total := len(books)
	var done atomic.Int64
	results := r.orch.Multiple(workCtx, books, enrich.MultipleOptions{
		Concurrency: r.cfg.BatchConcurrency,
		Stop: func() bool {
			return a.IsCancelled(rpc) || workCtx.Err() != nil
		},
		OnItem: func(i int, res enrich.BookResult) {
			n := done.Add(1)
			u := progress.ProgressUpdate{
				Progress:       float64(n) / float64(total),
				ProcessedCount: int(n),
				TotalCount:     total,
			}
			if label := bookLabel(res.Input); label != "" {
				u.Extra = map[string]any{"currentBook": label}
			}
			_ = a.UpdateProgress(rpc, u)
		},
	})

	switch {
	case a.IsCancelled(rpc):
		_, _ = a.Cancel(rpc)
	case workCtx.Err() != nil:
		_, _ = a.Cancel(rpc)
		_ = a.Send(rpc, progress.NewEnvelope(progress.PipelineBatchEnrichment, a.JobID(),
			progress.MessageError, progress.ErrorPayload{
				Code:    "BATCH_TIMEOUT",
				Message: "Batch deadline exceeded",
			}))
	default:
		_, _ = a.Complete(rpc, batchResult(books, results))
	}
}

func batchResult(books []enrich.BookQuery, results []enrich.BookResult) BatchResult {
	out := BatchResult{Results: results, Errors: []BatchItemError{}}
	ok := 0
	for i, res := range results {
		if res.Error == "" {
			ok++
			continue
		}
		out.Errors = append(out.Errors, BatchItemError{Index: i, Input: books[i], Error: res.Error})
	}
	out.SuccessRate = fmt.Sprintf("%d/%d", ok, len(books))
	return out
}

func bookLabel(q enrich.BookQuery) string {
	if q.Title != "" {
		return q.Title
	}
	return q.ISBN
}
