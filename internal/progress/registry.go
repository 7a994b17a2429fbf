package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackzampolin/tome/internal/tomerr"
)

// Registry hands out one actor per job, rehydrating evicted ones from the
// store. Jobs whose persisted state is missing or undecodable get an actor
// that presents the corruption instead of guessing.
type Registry struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	actors map[string]*Actor
}

func NewRegistry(store Store, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		actors: map[string]*Actor{},
	}
}

// Config returns the lifecycle configuration actors run with.
func (r *Registry) Config() Config {
	return r.cfg
}

// Create starts a fresh pending job and persists it before returning so the
// job is visible to other instances immediately.
func (r *Registry) Create(ctx context.Context, jobID string, pipeline Pipeline, totalCount int) (*Actor, error) {
	r.mu.Lock()
	if a, ok := r.actors[jobID]; ok {
		r.mu.Unlock()
		return a, nil
	}
	state := NewJobState(jobID, pipeline, totalCount, time.Now())
	if err := r.store.Save(ctx, state); err != nil {
		r.mu.Unlock()
		return nil, tomerr.Newf(tomerr.CodeInternalError, "persisting new job: %v", err)
	}
	a := newActor(state, false, r.cfg, r.store, r, r.logger)
	r.actors[jobID] = a
	r.mu.Unlock()
	return a, nil
}

// Get returns the live actor for jobID, rehydrating from the store when
// necessary. Missing or malformed persisted state yields a corrupted-state
// actor rather than an error; callers see status=failed from it.
func (r *Registry) Get(ctx context.Context, jobID string) *Actor {
	r.mu.Lock()
	if a, ok := r.actors[jobID]; ok {
		r.mu.Unlock()
		return a
	}
	r.mu.Unlock()

	// Load outside the lock; store reads can be slow.
	state, found, err := r.store.Load(ctx, jobID)
	corrupt := false
	if err != nil || !found {
		if err != nil {
			r.logger.Warn("job state unreadable", "jobId", jobID, "error", err)
		}
		state = JobState{JobID: jobID}
		corrupt = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[jobID]; ok {
		return a
	}
	a := newActor(state, corrupt, r.cfg, r.store, r, r.logger)
	r.actors[jobID] = a
	return a
}

// Known reports whether the job exists live or persisted, without creating
// an actor.
func (r *Registry) Known(ctx context.Context, jobID string) bool {
	r.mu.Lock()
	_, live := r.actors[jobID]
	r.mu.Unlock()
	if live {
		return true
	}
	_, found, err := r.store.Load(ctx, jobID)
	return err == nil && found
}

// List merges live actor state with persisted jobs, newest first.
func (r *Registry) List(ctx context.Context) ([]JobState, error) {
	persisted, err := r.store.List(ctx)
	if err != nil {
		return nil, tomerr.Newf(tomerr.CodeInternalError, "listing jobs: %v", err)
	}

	out := map[string]JobState{}
	for _, s := range persisted {
		out[s.JobID] = s
	}
	r.mu.Lock()
	live := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		live = append(live, a)
	}
	r.mu.Unlock()
	for _, a := range live {
		if s, err := a.State(ctx); err == nil {
			out[s.JobID] = s
		}
	}

	states := make([]JobState, 0, len(out))
	for _, s := range out {
		states = append(states, s.Public())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].CreatedAt.After(states[j].CreatedAt) })
	return states, nil
}

// Delete retires the actor and removes persisted state.
func (r *Registry) Delete(ctx context.Context, jobID string) error {
	r.mu.Lock()
	a, ok := r.actors[jobID]
	delete(r.actors, jobID)
	r.mu.Unlock()
	if ok {
		a.Stop()
	}
	if err := r.store.Delete(ctx, jobID); err != nil {
		return tomerr.Newf(tomerr.CodeInternalError, "deleting job: %v", err)
	}
	return nil
}

// remove drops a retired actor from the map. Called by actor cleanup.
func (r *Registry) remove(jobID string) {
	r.mu.Lock()
	delete(r.actors, jobID)
	r.mu.Unlock()
}

// ActorCount reports live actors.
func (r *Registry) ActorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Shutdown stops every live actor, flushing dirty state.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	actors := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.actors = map[string]*Actor{}
	r.mu.Unlock()
	for _, a := range actors {
		a.Stop()
	}
}

// ServeWS is the /ws/progress upgrade handler.
func (r *Registry) ServeWS(w http.ResponseWriter, req *http.Request) {
	if !websocket.IsWebSocketUpgrade(req) {
		writeWSError(w, http.StatusUpgradeRequired, tomerr.CodeInvalidQuery, "websocket upgrade required")
		return
	}
	jobID := req.URL.Query().Get("jobId")
	if jobID == "" {
		writeWSError(w, http.StatusBadRequest, tomerr.CodeMissingParameter, "jobId is required")
		return
	}
	token := req.URL.Query().Get("token")

	actor := r.Get(req.Context(), jobID)
	if !actor.ValidateToken(req.Context(), token) {
		writeWSError(w, http.StatusUnauthorized, tomerr.CodeUnauthorized, "invalid or expired token")
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		r.logger.Debug("websocket upgrade failed", "jobId", jobID, "error", err)
		return
	}
	actor.Attach(conn)
}

func writeWSError(w http.ResponseWriter, status int, code tomerr.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": message,
		},
	})
}
