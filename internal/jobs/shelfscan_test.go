package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/providers"
	"github.com/jackzampolin/tome/internal/tomerr"
)

func TestShelfScanCompletes(t *testing.T) {
	h := newJobsHarness(t)
	h.vision.spines = []providers.SpineCandidate{
		{Title: "Dune", Author: "Frank Herbert", Confidence: 0.9},
		{Title: "Dune Messiah", Author: "Frank Herbert", Confidence: 0.7},
	}
	h.vision.scanErr = func(image []byte) error {
		if bytes.Equal(image, []byte("blurry")) {
			return errors.New("no spines visible")
		}
		return nil
	}

	photos := []Photo{
		{Data: []byte("shelf-1"), MimeType: "image/jpeg"},
		{Data: []byte("blurry"), MimeType: "image/jpeg"},
		{Data: []byte("shelf-3"), MimeType: "image/png"},
	}
	job, err := h.runner.StartShelfScan(context.Background(), photos)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := waitTerminal(t, h.reg, job.JobID)
	if state.Status != progress.StatusCompleted {
		t.Fatalf("unexpected status: %+v", state)
	}

	var result ShelfScanResult
	if err := json.Unmarshal(state.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(result.Photos) != 3 {
		t.Fatalf("unexpected photos: %+v", result.Photos)
	}
	if result.Photos[1].Status != progress.PhotoFailed || result.Photos[1].BooksFound != 0 {
		t.Fatalf("failed photo not recorded: %+v", result.Photos[1])
	}
	// Two photos succeed with two spines each.
	if result.TotalBooksFound != 4 || len(result.Books) != 4 {
		t.Fatalf("unexpected totals: found=%d books=%d", result.TotalBooksFound, len(result.Books))
	}
	if state.ProcessedCount != 3 {
		t.Fatalf("every photo must be accounted for: %+v", state)
	}
}

func TestShelfScanRejectsEmptyBatch(t *testing.T) {
	h := newJobsHarness(t)
	_, err := h.runner.StartShelfScan(context.Background(), nil)
	if tomerr.CodeOf(err) != tomerr.CodeEmptyBatch {
		t.Fatalf("expected E_EMPTY_BATCH, got %v", err)
	}
}

func TestShelfScanWithoutVisionFails(t *testing.T) {
	h := newJobsHarness(t)
	h.runner.vision = nil

	job, err := h.runner.StartShelfScan(context.Background(), []Photo{{Data: []byte("shelf")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := waitTerminal(t, h.reg, job.JobID)
	if state.Status != progress.StatusFailed {
		t.Fatalf("unexpected status: %+v", state)
	}
}

// A config reload can install a vision client after the runner is built;
// jobs launched afterwards must see it.
func TestShelfScanResolvesVisionAtLaunch(t *testing.T) {
	h := newJobsHarness(t)

	var mu sync.Mutex
	var current Vision
	h.runner.vision = func() Vision {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	job, err := h.runner.StartShelfScan(context.Background(), []Photo{{Data: []byte("shelf")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state := waitTerminal(t, h.reg, job.JobID); state.Status != progress.StatusFailed {
		t.Fatalf("job without a client should fail: %+v", state)
	}

	mu.Lock()
	current = h.vision
	mu.Unlock()

	job, err = h.runner.StartShelfScan(context.Background(), []Photo{{Data: []byte("shelf")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state := waitTerminal(t, h.reg, job.JobID); state.Status != progress.StatusCompleted {
		t.Fatalf("job after the swap should complete: %+v", state)
	}
}
