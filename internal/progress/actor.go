package progress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"

	"github.com/jackzampolin/tome/internal/config"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// ErrActorStopped is returned for RPCs against a retired actor.
var ErrActorStopped = errors.New("progress actor stopped")

const corruptionMessage = "State corruption detected"

// Config tunes actor behavior.
type Config struct {
	ReadyTimeout       time.Duration
	CheckpointEvery    int
	CheckpointInterval time.Duration
	CleanupAfter       time.Duration
	TokenLifetime      time.Duration
	TokenRefreshWindow time.Duration
}

// ConfigFrom maps the progress section of the app config.
func ConfigFrom(cfg config.ProgressCfg) Config {
	c := Config{
		ReadyTimeout:       time.Duration(cfg.ReadyHandshakeTimeoutMs) * time.Millisecond,
		CheckpointEvery:    cfg.CheckpointEveryNUpdates,
		CheckpointInterval: time.Duration(cfg.CheckpointEverySeconds) * time.Second,
		CleanupAfter:       time.Duration(cfg.CleanupAfterTerminalHours) * time.Hour,
		TokenLifetime:      cfg.TokenLifetime(),
		TokenRefreshWindow: cfg.TokenRefreshWindow(),
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 5
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 10 * time.Second
	}
	if c.CleanupAfter <= 0 {
		c.CleanupAfter = 24 * time.Hour
	}
	if c.TokenLifetime <= 0 {
		c.TokenLifetime = 2 * time.Hour
	}
	if c.TokenRefreshWindow <= 0 {
		c.TokenRefreshWindow = 30 * time.Minute
	}
	return c
}

// ReadyResult reports the outcome of waiting for the client handshake.
type ReadyResult struct {
	Ready        bool
	TimedOut     bool
	Disconnected bool
}

// Actor owns one job's state and WebSocket. All state access happens inside
// the run loop; exported methods post closures into the mailbox and wait.
type Actor struct {
	jobID    string
	cfg      Config
	store    Store
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time

	mailbox  chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// Run-loop owned. Never touched from outside.
	state          JobState
	corrupt        bool
	conn           *websocket.Conn
	connGen        int
	ready          bool
	readyCh        chan struct{}
	detachCh       chan struct{}
	lastCheckpoint time.Time
	cleanupTimer   *time.Timer
}

func newActor(state JobState, corrupt bool, cfg Config, store Store, reg *Registry, logger *slog.Logger) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Actor{
		jobID:    state.JobID,
		cfg:      cfg,
		store:    store,
		registry: reg,
		logger:   logger.With("jobId", state.JobID),
		now:      time.Now,
		mailbox:  make(chan func(), 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		state:    state,
		corrupt:  corrupt,
		readyCh:  make(chan struct{}),
		detachCh: make(chan struct{}),
	}
	a.lastCheckpoint = a.now()
	go a.run()
	if state.Status.Terminal() || corrupt {
		a.post(a.scheduleCleanup)
	}
	return a
}

func (a *Actor) run() {
	ticker := time.NewTicker(a.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-a.mailbox:
			fn()
		case <-ticker.C:
			if a.state.UpdatesSinceCheckpoint > 0 &&
				a.now().Sub(a.lastCheckpoint) >= a.cfg.CheckpointInterval {
				a.checkpointNow()
			}
		case <-a.quit:
			if a.state.UpdatesSinceCheckpoint > 0 {
				a.checkpointNow()
			}
			if a.conn != nil {
				a.closeConn(websocket.CloseNormalClosure, "Shutting down")
			}
			if a.cleanupTimer != nil {
				a.cleanupTimer.Stop()
			}
			close(a.stopped)
			return
		}
	}
}

// JobID returns the job this actor owns.
func (a *Actor) JobID() string {
	return a.jobID
}

// Stop retires the actor. Pending mailbox entries may be dropped.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.quit) })
	<-a.stopped
}

// post delivers fn to the run loop without waiting for execution.
func (a *Actor) post(fn func()) {
	select {
	case a.mailbox <- fn:
	case <-a.stopped:
	}
}

// do delivers fn and waits until it has run.
func (a *Actor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case a.mailbox <- func() { fn(); close(done) }:
	case <-a.stopped:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-a.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrActorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) corruptErr() error {
	return tomerr.New(tomerr.CodeInternalError, corruptionMessage)
}

// State returns a copy of the job state. Corrupted actors present a failed
// snapshot instead of guessing.
func (a *Actor) State(ctx context.Context) (JobState, error) {
	var out JobState
	err := a.do(ctx, func() {
		if a.corrupt {
			out = JobState{JobID: a.jobID, Status: StatusFailed, Error: corruptionMessage}
			return
		}
		out = a.state
	})
	return out, err
}

// SetAuthToken installs a capability token and persists it immediately so a
// client connecting right after job creation finds it.
func (a *Actor) SetAuthToken(ctx context.Context, token string) error {
	var rpcErr error
	err := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		now := a.now()
		a.state.AuthToken = token
		a.state.AuthTokenExpiresAt = now.Add(a.cfg.TokenLifetime)
		a.state.touch(now)
		a.checkpointNow()
	})
	if err != nil {
		return err
	}
	return rpcErr
}

// RefreshToken rotates the token inside the trailing refresh window.
func (a *Actor) RefreshToken(ctx context.Context, oldToken string) (TokenGrant, error) {
	var grant TokenGrant
	var rpcErr error
	err := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		grant, rpcErr = a.state.refreshToken(oldToken, a.cfg.TokenLifetime, a.cfg.TokenRefreshWindow, a.now())
		if rpcErr == nil {
			a.checkpointNow()
		}
	})
	if err != nil {
		return TokenGrant{}, err
	}
	return grant, rpcErr
}

// ValidateToken checks a presented token without mutating state.
func (a *Actor) ValidateToken(ctx context.Context, token string) bool {
	valid := false
	_ = a.do(ctx, func() {
		valid = !a.corrupt && a.state.validToken(token, a.now())
	})
	return valid
}

// WaitForReady blocks until the client sends ready, the socket drops, or
// timeout elapses. The actor loop is never blocked by this wait.
func (a *Actor) WaitForReady(ctx context.Context, timeout time.Duration) ReadyResult {
	if timeout <= 0 {
		timeout = a.cfg.ReadyTimeout
	}

	var readyCh, detachCh chan struct{}
	var already bool
	if err := a.do(ctx, func() {
		already = a.ready
		readyCh = a.readyCh
		detachCh = a.detachCh
	}); err != nil {
		return ReadyResult{Disconnected: true}
	}
	if already {
		return ReadyResult{Ready: true}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-readyCh:
		return ReadyResult{Ready: true}
	case <-detachCh:
		return ReadyResult{Disconnected: true}
	case <-timer.C:
		return ReadyResult{TimedOut: true}
	case <-ctx.Done():
		return ReadyResult{TimedOut: true}
	case <-a.stopped:
		return ReadyResult{Disconnected: true}
	}
}

// MarkRunning transitions pending to running.
func (a *Actor) MarkRunning(ctx context.Context) error {
	var rpcErr error
	err := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		if rpcErr = a.state.MarkRunning(a.now()); rpcErr == nil {
			a.checkpointMaybe()
		}
	})
	if err != nil {
		return err
	}
	return rpcErr
}

// UpdateProgress applies an update and streams it to the client.
func (a *Actor) UpdateProgress(ctx context.Context, u ProgressUpdate) error {
	var rpcErr error
	err := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		now := a.now()
		if rpcErr = a.state.ApplyProgress(u.Progress, u.ProcessedCount, u.TotalCount, now); rpcErr != nil {
			return
		}
		a.send(newEnvelope(a.state.Pipeline, a.jobID, MessageProgress, u.wirePayload(), now))
		a.checkpointMaybe()
	})
	if err != nil {
		return err
	}
	return rpcErr
}

// Complete moves the job to completed and emits the terminal message.
// Safe to call twice; the repeat reports already=true.
func (a *Actor) Complete(ctx context.Context, payload any) (already bool, err error) {
	var rpcErr error
	doErr := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		raw, merr := json.Marshal(payload)
		if merr != nil {
			rpcErr = tomerr.Newf(tomerr.CodeInternalError, "encoding completion payload: %v", merr)
			return
		}
		now := a.now()
		already, rpcErr = a.state.Complete(raw, now)
		if rpcErr != nil {
			return
		}
		// Re-sent on idempotent repeats; clients tolerate duplicates.
		a.send(newEnvelope(a.state.Pipeline, a.jobID, MessageComplete, payload, now))
		if !already {
			a.checkpointNow()
			a.scheduleCleanup()
		}
	})
	if doErr != nil {
		return false, doErr
	}
	return already, rpcErr
}

// SendError moves the job to failed and emits the terminal error message.
func (a *Actor) SendError(ctx context.Context, p ErrorPayload) (already bool, err error) {
	var rpcErr error
	doErr := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		raw, _ := json.Marshal(p)
		now := a.now()
		already, rpcErr = a.state.Fail(p.Message, raw, now)
		if rpcErr != nil {
			return
		}
		a.send(newEnvelope(a.state.Pipeline, a.jobID, MessageError, p, now))
		if !already {
			a.checkpointNow()
			a.scheduleCleanup()
		}
	})
	if doErr != nil {
		return false, doErr
	}
	return already, rpcErr
}

// Cancel raises the cancelled flag and moves to the cancelled terminal.
func (a *Actor) Cancel(ctx context.Context) (already bool, err error) {
	var rpcErr error
	doErr := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		already, rpcErr = a.state.Cancel(a.now())
		if rpcErr != nil {
			return
		}
		if !already {
			a.checkpointNow()
			a.scheduleCleanup()
		}
	})
	if doErr != nil {
		return false, doErr
	}
	return already, rpcErr
}

// IsCancelled is the poll pipelines run at async boundaries.
func (a *Actor) IsCancelled(ctx context.Context) bool {
	cancelled := false
	_ = a.do(ctx, func() { cancelled = a.state.Cancelled })
	return cancelled
}

// InitBatch seeds per-photo tracking for a bookshelf scan.
func (a *Actor) InitBatch(ctx context.Context, totalPhotos int) error {
	var rpcErr error
	err := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		if rpcErr = a.state.InitBatch(totalPhotos, a.now()); rpcErr == nil {
			a.checkpointMaybe()
		}
	})
	if err != nil {
		return err
	}
	return rpcErr
}

// UpdatePhoto applies one photo outcome with an optimistic version check.
func (a *Actor) UpdatePhoto(ctx context.Context, index int, status string, booksFound, expectedVersion int) error {
	var rpcErr error
	err := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		if rpcErr = a.state.UpdatePhoto(index, status, booksFound, expectedVersion, a.now()); rpcErr == nil {
			a.checkpointMaybe()
		}
	})
	if err != nil {
		return err
	}
	return rpcErr
}

// PhotoVersion reads the current version of one photo slot.
func (a *Actor) PhotoVersion(ctx context.Context, index int) (int, error) {
	version := 0
	var rpcErr error
	err := a.do(ctx, func() {
		if a.corrupt {
			rpcErr = a.corruptErr()
			return
		}
		if index < 0 || index >= len(a.state.Photos) {
			rpcErr = tomerr.Newf(tomerr.CodeInvalidQuery, "photo index %d out of range", index)
			return
		}
		version = a.state.Photos[index].Version
	})
	if err != nil {
		return 0, err
	}
	return version, rpcErr
}

// Send streams an arbitrary envelope to the connected client, if any.
func (a *Actor) Send(ctx context.Context, env Envelope) error {
	return a.do(ctx, func() { a.send(env) })
}

// CloseConnection closes the socket with a normal closure and reason.
func (a *Actor) CloseConnection(ctx context.Context, reason string) error {
	return a.do(ctx, func() {
		a.closeConn(websocket.CloseNormalClosure, reason)
	})
}

// Attach hands a freshly upgraded socket to the actor. A prior socket is
// superseded with a normal closure. The ready and detach channels are not
// replaced here: pipelines snapshot them before the client dials, and the
// snapshot must stay live across attaches. closeConn rotates detachCh after
// closing it; readyCh is closed once by the first ready frame.
func (a *Actor) Attach(conn *websocket.Conn) {
	a.post(func() {
		if a.conn != nil {
			a.closeConn(websocket.CloseNormalClosure, "Superseded")
		}
		a.conn = conn
		a.connGen++
		go a.readPump(conn, a.connGen)
	})
}

// send writes one envelope in the run loop. Absent sockets drop the message;
// clients recover state via the jobs API.
func (a *Actor) send(env Envelope) {
	if a.conn == nil {
		return
	}
	if err := a.conn.WriteJSON(env); err != nil {
		a.logger.Debug("websocket write failed, detaching", "error", err)
		a.closeConn(websocket.CloseAbnormalClosure, "")
	}
}

// closeConn tears down the current socket and wakes any ready waiters with
// a disconnect.
func (a *Actor) closeConn(code int, reason string) {
	if a.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = a.conn.WriteControl(websocket.CloseMessage, msg, a.now().Add(time.Second))
	_ = a.conn.Close()
	a.conn = nil
	close(a.detachCh)
	a.detachCh = make(chan struct{})
}

// readPump drains inbound frames for one socket generation.
func (a *Actor) readPump(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Debug("websocket read error", "error", err)
			}
			a.post(func() {
				// A newer socket may have replaced this one already.
				if a.connGen == gen && a.conn != nil {
					a.closeConn(websocket.CloseAbnormalClosure, "")
				}
			})
			return
		}
		a.post(func() {
			if a.connGen == gen {
				a.handleInbound(data)
			}
		})
	}
}

// handleInbound processes one client frame. Malformed frames are logged and
// ignored.
func (a *Actor) handleInbound(data []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.Debug("ignoring malformed client frame", "error", err)
		return
	}
	switch msg.Type {
	case "ready":
		if !a.ready {
			a.ready = true
			close(a.readyCh)
		}
		a.send(newEnvelope(a.state.Pipeline, a.jobID, MessageReadyAck, map[string]any{}, a.now()))
	default:
		a.logger.Debug("ignoring unknown client frame", "type", msg.Type)
	}
}

// checkpointMaybe persists after every Nth accepted update.
func (a *Actor) checkpointMaybe() {
	if a.state.UpdatesSinceCheckpoint >= a.cfg.CheckpointEvery {
		a.checkpointNow()
	}
}

// checkpointNow persists the state with bounded retries. Failures keep the
// dirty counter so the next cadence tries again.
func (a *Actor) checkpointNow() {
	if a.corrupt {
		return
	}
	snapshot := a.state
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.store.Save(ctx, snapshot)
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		a.logger.Warn("checkpoint failed", "error", err)
		return
	}
	a.state.UpdatesSinceCheckpoint = 0
	a.lastCheckpoint = a.now()
}

// scheduleCleanup arms the 24 h post-terminal alarm once.
func (a *Actor) scheduleCleanup() {
	if a.cleanupTimer != nil {
		return
	}
	a.cleanupTimer = time.AfterFunc(a.cfg.CleanupAfter, func() {
		a.post(a.runCleanup)
	})
}

// runCleanup deletes persisted state when the job stayed terminal and no
// client is attached, then retires the actor.
func (a *Actor) runCleanup() {
	terminal := a.corrupt || a.state.Status.Terminal()
	if !terminal || a.conn != nil {
		// Re-arm; a client is still watching.
		a.cleanupTimer = nil
		a.scheduleCleanup()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Delete(ctx, a.jobID); err != nil {
		a.logger.Warn("cleanup delete failed", "error", err)
	}
	if a.registry != nil {
		a.registry.remove(a.jobID)
	}
	a.stopOnce.Do(func() { close(a.quit) })
}
