package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/tome/internal/cache"
	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/providers"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// CSVImportResult is the complete payload of a csv_import job. It is also the
// shape cached under the content-addressed parse key.
type CSVImportResult struct {
	Books       []providers.ParsedRow `json:"books"`
	Errors      []string              `json:"errors"`
	SuccessRate string                `json:"successRate"`
}

// StartCSVImport launches the csv_import pipeline over raw export text.
func (r *Runner) StartCSVImport(ctx context.Context, csvText string) (StartedJob, error) {
	if max := r.cfg.MaxUploadBytes; max > 0 && len(csvText) > max {
		return StartedJob{}, tomerr.Newf(tomerr.CodeFileTooLarge, "upload exceeds %d bytes", max)
	}

	actor, job, err := r.launch(ctx, progress.PipelineCSVImport, 0)
	if err != nil {
		return StartedJob{}, err
	}
	go r.run(actor, func(ctx context.Context) {
		r.csvImport(ctx, actor, csvText)
	})
	return job, nil
}

func (r *Runner) csvImport(ctx context.Context, a *progress.Actor, csvText string) {
	rpc := context.Background()
	if err := a.MarkRunning(rpc); err != nil {
		return
	}

	if err := validateCSVShape(csvText); err != nil {
		_, _ = a.SendError(rpc, progress.ErrorPayload{
			Code:    string(tomerr.CodeCSVProcessingFailed),
			Message: err.Error(),
		})
		return
	}
	_ = a.UpdateProgress(rpc, progress.ProgressUpdate{Progress: 0.02, Message: "Validating…"})

	// Identical payloads short-circuit to the cached parse.
	key := cache.CSVParseKey([]byte(csvText))
	if entry, _, ok := r.cache.Get(rpc, key); ok && !entry.Negative() {
		var cached CSVImportResult
		if json.Unmarshal(entry.Payload, &cached) == nil {
			_, _ = a.Complete(rpc, cached)
			return
		}
	}

	_ = a.UpdateProgress(rpc, progress.ProgressUpdate{Progress: 0.05, Message: "Uploading to model…"})

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

	rows, err := vision.ParseCSV(workCtx, csvText)
	if err != nil {
		if a.IsCancelled(rpc) {
			_, _ = a.Cancel(rpc)
			return
		}
		code, retryable := classifyModelErr(err)
		_, _ = a.SendError(rpc, progress.ErrorPayload{
			Code:      code,
			Message:   err.Error(),
			Retryable: retryable,
		})
		return
	}

	books, rowErrors := filterRows(rows)
	if len(books) == 0 {
		_, _ = a.SendError(rpc, progress.ErrorPayload{
			Code:    string(tomerr.CodeCSVProcessingFailed),
			Message: "No valid books found",
		})
		return
	}

	_ = a.UpdateProgress(rpc, progress.ProgressUpdate{
		Progress:       0.75,
		ProcessedCount: len(books),
		TotalCount:     len(rows),
		Message:        fmt.Sprintf("Parsed %d books", len(books)),
	})

	result := CSVImportResult{
		Books:       books,
		Errors:      rowErrors,
		SuccessRate: fmt.Sprintf("%d/%d", len(books), len(rows)),
	}
	if raw, merr := json.Marshal(result); merr == nil {
		r.cache.Put(rpc, key, cache.Entry{Payload: raw}, r.cache.TTLs().CSVParse)
	}
	_, _ = a.Complete(rpc, result)
}

// validateCSVShape rejects payloads that cannot be a list export before any
// model call is spent on them.
func validateCSVShape(csvText string) error {
	trimmed := strings.TrimSpace(csvText)
	if trimmed == "" {
		return fmt.Errorf("CSV payload is empty")
	}
	firstLine, _, _ := strings.Cut(trimmed, "\n")
	if !strings.ContainsAny(firstLine, ",;\t") {
		return fmt.Errorf("CSV payload has no recognizable separator")
	}
	return nil
}

// filterRows keeps rows with both a title and an author, trimming whitespace
// and preserving optional ISBNs. Dropped rows become entries in errors[].
func filterRows(rows []providers.ParsedRow) ([]providers.ParsedRow, []string) {
	books := []providers.ParsedRow{}
	errs := []string{}
	for i, row := range rows {
		row.Title = strings.TrimSpace(row.Title)
		row.Author = strings.TrimSpace(row.Author)
		row.ISBN13 = strings.TrimSpace(row.ISBN13)
		row.ISBN10 = strings.TrimSpace(row.ISBN10)
		switch {
		case row.Title == "":
			errs = append(errs, fmt.Sprintf("row %d: missing title", i+1))
		case row.Author == "":
			errs = append(errs, fmt.Sprintf("row %d: missing author", i+1))
		default:
			books = append(books, row)
		}
	}
	return books, errs
}
