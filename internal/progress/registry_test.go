package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsHarness struct {
	reg   *Registry
	srv   *httptest.Server
	actor *Actor
	token string
}

func newWSHarness(t *testing.T, jobID string) *wsHarness {
	t.Helper()
	reg := NewRegistry(NewMemoryStateStore(), testConfig(), nil)
	srv := httptest.NewServer(http.HandlerFunc(reg.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		reg.Shutdown()
	})

	actor, err := reg.Create(context.Background(), jobID, PipelineBatchEnrichment, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token := MintToken()
	if err := actor.SetAuthToken(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &wsHarness{reg: reg, srv: srv, actor: actor, token: token}
}

func (h *wsHarness) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/progress?" + query
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL("jobId="+h.actor.jobID+"&token="+h.token), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return env
}

func TestWSReadyHandshake(t *testing.T) {
	h := newWSHarness(t, "ws-1")
	conn := h.dial(t)

	if err := conn.WriteJSON(map[string]string{"type": "ready"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ack := readEnvelope(t, conn)
	if ack.Type != MessageReadyAck || ack.Version != EnvelopeVersion || ack.JobID != "ws-1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if ack.Pipeline != PipelineBatchEnrichment {
		t.Fatalf("unexpected pipeline: %q", ack.Pipeline)
	}

	res := h.actor.WaitForReady(context.Background(), time.Second)
	if !res.Ready {
		t.Fatalf("actor did not observe ready: %+v", res)
	}
}

// Pipelines start waiting before the client can possibly dial, so a wait
// begun against an unattached actor must still see the handshake of a
// socket attached later.
func TestWSReadyWakesWaiterStartedBeforeDial(t *testing.T) {
	h := newWSHarness(t, "ws-early")

	results := make(chan ReadyResult, 1)
	go func() {
		results <- h.actor.WaitForReady(context.Background(), 5*time.Second)
	}()

	// Give the waiter time to snapshot the pre-attach channels.
	time.Sleep(50 * time.Millisecond)

	conn := h.dial(t)
	if err := conn.WriteJSON(map[string]string{"type": "ready"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readEnvelope(t, conn) // ready_ack

	select {
	case res := <-results:
		if !res.Ready {
			t.Fatalf("waiter did not observe ready: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after client sent ready")
	}
}

func TestWSProgressFramesInOrder(t *testing.T) {
	ctx := context.Background()
	h := newWSHarness(t, "ws-2")
	conn := h.dial(t)
	conn.WriteJSON(map[string]string{"type": "ready"})
	readEnvelope(t, conn) // ready_ack

	h.actor.MarkRunning(ctx)
	for i := 1; i <= 3; i++ {
		err := h.actor.UpdateProgress(ctx, ProgressUpdate{
			Progress:       float64(i) / 10,
			ProcessedCount: i,
			TotalCount:     10,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	for i := 1; i <= 3; i++ {
		env := readEnvelope(t, conn)
		if env.Type != MessageProgress {
			t.Fatalf("frame %d: unexpected type %q", i, env.Type)
		}
		payload := env.Payload.(map[string]any)
		if int(payload["processedCount"].(float64)) != i {
			t.Fatalf("frames out of order: frame %d carries %v", i, payload["processedCount"])
		}
	}
}

func TestWSCompleteFrame(t *testing.T) {
	ctx := context.Background()
	h := newWSHarness(t, "ws-3")
	conn := h.dial(t)
	conn.WriteJSON(map[string]string{"type": "ready"})
	readEnvelope(t, conn)

	h.actor.MarkRunning(ctx)
	if _, err := h.actor.Complete(ctx, map[string]any{"totalBooksFound": 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != MessageComplete {
		t.Fatalf("unexpected type: %q", env.Type)
	}
	payload := env.Payload.(map[string]any)
	if payload["totalBooksFound"].(float64) != 4 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestWSSecondConnectionSupersedes(t *testing.T) {
	h := newWSHarness(t, "ws-4")
	first := h.dial(t)
	first.WriteJSON(map[string]string{"type": "ready"})
	readEnvelope(t, first)

	second := h.dial(t)
	second.WriteJSON(map[string]string{"type": "ready"})
	readEnvelope(t, second)

	_, _, err := first.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != "Superseded" {
		t.Fatalf("unexpected close: %+v", closeErr)
	}
}

func TestWSUpgradeErrors(t *testing.T) {
	h := newWSHarness(t, "ws-5")

	get := func(t *testing.T, url string) (int, map[string]any) {
		t.Helper()
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	t.Run("plain http", func(t *testing.T) {
		status, body := get(t, h.srv.URL+"/ws/progress?jobId=ws-5&token="+h.token)
		if status != http.StatusUpgradeRequired {
			t.Fatalf("expected 426, got %d (%+v)", status, body)
		}
	})

	t.Run("missing jobId", func(t *testing.T) {
		_, _, err := websocket.DefaultDialer.Dial(h.wsURL("token="+h.token), nil)
		if err == nil {
			t.Fatal("dial should fail")
		}
	})

	t.Run("bad token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("jobId=ws-5&token=wrong"), nil)
		if err == nil {
			t.Fatal("dial should fail")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %+v", resp)
		}
	})
}

func TestWSMessagesDroppedWithoutSocket(t *testing.T) {
	ctx := context.Background()
	h := newWSHarness(t, "ws-6")

	// No socket attached. Updates must still apply to state.
	h.actor.MarkRunning(ctx)
	if err := h.actor.UpdateProgress(ctx, ProgressUpdate{Progress: 0.3, ProcessedCount: 3, TotalCount: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, err := h.actor.State(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Progress != 0.3 {
		t.Fatalf("unexpected state: %+v", state)
	}
}
