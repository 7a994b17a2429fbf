package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"
)

// startTestServer runs a server on addr with in-memory persistence and
// returns once it answers health checks.
func startTestServer(t *testing.T, addr string) (*Server, context.CancelFunc, chan error) {
	t.Helper()

	srv, err := New(Config{Addr: addr})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	baseURL := "http://" + addr
	if err := waitForServer(serverCtx, baseURL, 10*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}
	return srv, serverCancel, serverErr
}

func TestServerLifecycle(t *testing.T) {
	addr := "127.0.0.1:18080"
	srv, cancel, serverErr := startTestServer(t, addr)
	baseURL := "http://" + addr

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body struct {
			Data struct {
				Status string `json:"status"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Data.Status != "ok" {
			t.Errorf("status = %q, want %q", body.Data.Status, "ok")
		}
	})

	t.Run("ready_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("metrics_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/metrics")
		if err != nil {
			t.Fatalf("metrics scrape failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("unknown_job_is_404", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/jobs/no-such-job")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
		var body struct {
			Data  any `json:"data"`
			Error *struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Data != nil {
			t.Error("data must be null on errors")
		}
		if body.Error == nil || body.Error.Code != "NOT_FOUND" {
			t.Errorf("error = %+v, want code NOT_FOUND", body.Error)
		}
	})

	t.Run("websocket_without_upgrade_is_426", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/ws/progress?jobId=x&token=y")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusUpgradeRequired {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUpgradeRequired)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	cancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Fatalf("Start() returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}

	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown, want false")
	}
}

func TestServerDoubleStart(t *testing.T) {
	srv, cancel, serverErr := startTestServer(t, "127.0.0.1:18081")
	defer func() {
		cancel()
		<-serverErr
	}()

	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should return error")
	}
}

func TestServerContextCancellation(t *testing.T) {
	_, cancel, serverErr := startTestServer(t, "127.0.0.1:18082")

	cancel()
	select {
	case <-serverErr:
	case <-time.After(15 * time.Second):
		t.Fatal("server did not respond to context cancellation")
	}
}

// waitForServer polls the server until it responds or timeout.
func waitForServer(ctx context.Context, baseURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %s", timeout)
}
