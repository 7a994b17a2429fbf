package jobs

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/providers"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// Photo is one shelf image submitted for scanning.
type Photo struct {
	Data     []byte
	MimeType string
}

// ShelfScanResult is the complete payload of a bookshelf_scan job.
type ShelfScanResult struct {
	Photos          []progress.PhotoState      `json:"photos"`
	TotalBooksFound int                        `json:"totalBooksFound"`
	Books           []providers.SpineCandidate `json:"books"`
}

// StartShelfScan launches the bookshelf_scan pipeline.
func (r *Runner) StartShelfScan(ctx context.Context, photos []Photo) (StartedJob, error) {
	if len(photos) == 0 {
		return StartedJob{}, tomerr.New(tomerr.CodeEmptyBatch, "no photos submitted")
	}
	var total int
	for _, p := range photos {
		total += len(p.Data)
	}
	if max := r.cfg.MaxUploadBytes; max > 0 && total > max {
		return StartedJob{}, tomerr.Newf(tomerr.CodeFileTooLarge, "upload exceeds %d bytes", max)
	}

	actor, job, err := r.launch(ctx, progress.PipelineBookshelfScan, len(photos))
	if err != nil {
		return StartedJob{}, err
	}
	go r.run(actor, func(ctx context.Context) {
		r.shelfScan(ctx, actor, photos)
	})
	return job, nil
}

func (r *Runner) shelfScan(ctx context.Context, a *progress.Actor, photos []Photo) {
	rpc := context.Background()
	if err := a.MarkRunning(rpc); err != nil {
		return
	}
	if err := a.InitBatch(rpc, len(photos)); err != nil {
		return
	}

	vision := r.visionClient()
	if vision == nil {
		_, _ = a.SendError(rpc, progress.ErrorPayload{
			Code:    string(tomerr.CodeProviderError),
			Message: "no vision model configured",
		})
		return
	}

	workCtx, stop := watchCancel(ctx, a)
	defer stop()

	var mu sync.Mutex
	books := []providers.SpineCandidate{}

	g, gctx := errgroup.WithContext(workCtx)
	g.SetLimit(max(r.cfg.BatchConcurrency, 1))
	for i, photo := range photos {
		if a.IsCancelled(rpc) {
			break
		}
		g.Go(func() error {
			candidates, err := vision.ScanShelf(gctx, photo.Data, photo.MimeType)

			version, verr := a.PhotoVersion(rpc, i)
			if verr != nil {
				return nil
			}
			if err != nil {
				r.logger.Warn("shelf photo scan failed", "jobId", a.JobID(), "photo", i, "error", err)
				_ = a.UpdatePhoto(rpc, i, progress.PhotoFailed, 0, version)
			} else {
				_ = a.UpdatePhoto(rpc, i, progress.PhotoCompleted, len(candidates), version)
				mu.Lock()
				books = append(books, candidates...)
				mu.Unlock()
			}

			state, serr := a.State(rpc)
			if serr == nil && state.TotalCount > 0 {
				_ = a.UpdateProgress(rpc, progress.ProgressUpdate{
					Progress:       float64(state.ProcessedCount) / float64(state.TotalCount),
					ProcessedCount: state.ProcessedCount,
					TotalCount:     state.TotalCount,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	if a.IsCancelled(rpc) {
		_, _ = a.Cancel(rpc)
		return
	}

	state, err := a.State(rpc)
	if err != nil {
		return
	}
	_, _ = a.Complete(rpc, ShelfScanResult{
		Photos:          state.Photos,
		TotalBooksFound: state.TotalBooksFound(),
		Books:           books,
	})
}
