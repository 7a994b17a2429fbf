package jobs

import (
	"context"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/enrich"
	"github.com/jackzampolin/tome/internal/normalize"
	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// SingleEnrichmentResult is the complete payload of a single_enrichment job.
type SingleEnrichmentResult struct {
	Response book.Response `json:"response"`
	Meta     enrich.Meta   `json:"metadata"`
}

// StartSingleEnrichment is the streamed variant of an ISBN lookup.
func (r *Runner) StartSingleEnrichment(ctx context.Context, isbn string) (StartedJob, error) {
	if _, ok := normalize.ISBN(isbn); !ok {
		return StartedJob{}, tomerr.Newf(tomerr.CodeInvalidISBN, "invalid ISBN %q", isbn)
	}

	actor, job, err := r.launch(ctx, progress.PipelineSingleEnrichment, 1)
	if err != nil {
		return StartedJob{}, err
	}
	go r.run(actor, func(ctx context.Context) {
		r.singleEnrichment(ctx, actor, isbn)
	})
	return job, nil
}

func (r *Runner) singleEnrichment(ctx context.Context, a *progress.Actor, isbn string) {
	rpc := context.Background()
	if err := a.MarkRunning(rpc); err != nil {
		return
	}
	_ = a.UpdateProgress(rpc, progress.ProgressUpdate{
		Progress:   0.1,
		TotalCount: 1,
		Message:    "Querying providers…",
	})

	workCtx, stop := watchCancel(ctx, a)
	defer stop()

	resp, meta, err := r.orch.ByISBN(workCtx, isbn)
	if a.IsCancelled(rpc) {
		_, _ = a.Cancel(rpc)
		return
	}
	if err != nil {
		_, _ = a.SendError(rpc, progress.ErrorPayload{
			Code:    string(tomerr.CodeOf(err)),
			Message: err.Error(),
		})
		return
	}
	_, _ = a.Complete(rpc, SingleEnrichmentResult{Response: resp, Meta: meta})
}
