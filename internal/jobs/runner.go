// Package jobs drives the async pipelines. Each pipeline runs in its own
// goroutine against a progress actor; callers get back a job id and a
// capability token and follow along over the websocket or by polling state.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/tome/internal/cache"
	"github.com/jackzampolin/tome/internal/config"
	"github.com/jackzampolin/tome/internal/enrich"
	"github.com/jackzampolin/tome/internal/metrics"
	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/providers"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// Vision is the slice of the multimodal client the pipelines consume.
type Vision interface {
	ParseCSV(ctx context.Context, csvText string) ([]providers.ParsedRow, error)
	ScanShelf(ctx context.Context, image []byte, mimeType string) ([]providers.SpineCandidate, error)
}

// Deps wires a Runner. Vision is resolved per job launch so a config reload
// that swaps the client reaches subsequently started jobs. It may be nil, or
// return nil, when no model key is configured; pipelines that need it fail
// their jobs with a terminal error instead of refusing to start the server.
type Deps struct {
	Orchestrator *enrich.Orchestrator
	Vision       func() Vision
	Cache        *cache.Cache
	Progress     *progress.Registry
	Cfg          config.JobsCfg
	Logger       *slog.Logger
	Metrics      *metrics.JobMetrics // optional
}

// Runner launches pipelines and owns their lifecycle glue.
type Runner struct {
	orch     *enrich.Orchestrator
	vision   func() Vision
	cache    *cache.Cache
	progress *progress.Registry
	cfg      config.JobsCfg
	logger   *slog.Logger
	metrics  *metrics.JobMetrics
}

func NewRunner(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		orch:     deps.Orchestrator,
		vision:   deps.Vision,
		cache:    deps.Cache,
		progress: deps.Progress,
		cfg:      deps.Cfg,
		logger:   logger,
		metrics:  deps.Metrics,
	}
}

// StartedJob is the 202 response body for every pipeline start.
type StartedJob struct {
	JobID     string `json:"jobId"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// launch creates the job's actor and installs its capability token.
func (r *Runner) launch(ctx context.Context, pipeline progress.Pipeline, totalCount int) (*progress.Actor, StartedJob, error) {
	jobID := uuid.NewString()
	actor, err := r.progress.Create(ctx, jobID, pipeline, totalCount)
	if err != nil {
		return nil, StartedJob{}, err
	}
	token := progress.MintToken()
	if err := actor.SetAuthToken(ctx, token); err != nil {
		return nil, StartedJob{}, err
	}
	r.recordStarted(pipeline)
	return actor, StartedJob{
		JobID:     jobID,
		Token:     token,
		ExpiresIn: int64(r.progress.Config().TokenLifetime.Seconds()),
	}, nil
}

// visionClient resolves the multimodal client for one job.
func (r *Runner) visionClient() Vision {
	if r.vision == nil {
		return nil
	}
	return r.vision()
}

// run is the common driver shell: wait for the client handshake, execute,
// and convert panics into a terminal error rather than a lost job.
func (r *Runner) run(a *progress.Actor, work func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pipeline panicked", "jobId", a.JobID(), "panic", rec)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = a.SendError(ctx, progress.ErrorPayload{
				Code:    string(tomerr.CodeInternalError),
				Message: "internal pipeline failure",
			})
		}
	}()

	ctx := context.Background()
	res := a.WaitForReady(ctx, r.progress.Config().ReadyTimeout)
	if !res.Ready {
		// Results persist to state either way; clients catch up by polling.
		r.logger.Debug("starting without a connected client", "jobId", a.JobID(),
			"timedOut", res.TimedOut, "disconnected", res.Disconnected)
	}
	work(ctx)
	r.recordFinished(a)
}

func (r *Runner) recordStarted(pipeline progress.Pipeline) {
	if r.metrics != nil {
		r.metrics.Started(string(pipeline))
	}
}

func (r *Runner) recordFinished(a *progress.Actor) {
	if r.metrics == nil {
		return
	}
	state, err := a.State(context.Background())
	if err != nil {
		return
	}
	r.metrics.Finished(string(state.Pipeline), string(state.Status))
}

// watchCancel derives a context that is cancelled when the job's cancel flag
// is raised, so blocking work unwinds at the next async boundary.
func watchCancel(ctx context.Context, a *progress.Actor) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if a.IsCancelled(context.Background()) {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}
