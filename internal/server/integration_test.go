package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/config"
	"github.com/jackzampolin/tome/internal/providers"
)

const testConfigYAML = `server:
  addr: "127.0.0.1:18090"
rate_limit:
  enabled: false
progress:
  ready_handshake_timeout_ms: 50
providers:
  googlebooks:
    enabled: false
  openlibrary:
    enabled: false
  isbndb:
    enabled: false
  vision:
    enabled: false
`

const duneVolumes = `{
	"totalItems": 1,
	"items": [{
		"volumeInfo": {
			"title": "Dune",
			"authors": ["Frank Herbert"],
			"publishedDate": "1990-09-01",
			"publisher": "Ace Books",
			"industryIdentifiers": [{"type": "ISBN_13", "identifier": "9780441013593"}]
		}
	}]
}`

type envelope struct {
	Data     json.RawMessage `json:"data"`
	Metadata struct {
		Provider string `json:"provider"`
		Cached   bool   `json:"cached"`
	} `json:"metadata"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func getEnvelope(t *testing.T, url string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decoding %s response: %v", url, err)
	}
	return resp.StatusCode, env
}

func postEnvelope(t *testing.T, url string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decoding %s response: %v", url, err)
	}
	return resp.StatusCode, env
}

// TestEnrichmentFlow drives a full enrich-then-job round trip against a
// running server with mock providers.
func TestEnrichmentFlow(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cm, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("config.NewManager() error = %v", err)
	}

	srv, err := New(Config{ConfigManager: cm})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	gb := providers.NewMockClient(book.ProviderGoogleBooks)
	gb.Payload = json.RawMessage(duneVolumes)
	srv.Registry().Register(gb)

	serverCtx, serverCancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()
	defer func() {
		serverCancel()
		select {
		case <-serverErr:
		case <-time.After(15 * time.Second):
			t.Error("server did not shut down")
		}
	}()

	baseURL := "http://" + srv.Addr()
	if err := waitForServer(serverCtx, baseURL, 10*time.Second); err != nil {
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("isbn_lookup", func(t *testing.T) {
		status, env := getEnvelope(t, baseURL+"/api/enrich/isbn/9780441013593")
		if status != http.StatusOK {
			t.Fatalf("status = %d, want 200 (error: %+v)", status, env.Error)
		}
		if env.Error != nil {
			t.Fatalf("unexpected error: %+v", env.Error)
		}
		if env.Metadata.Cached {
			t.Error("first lookup must not be cached")
		}
		var result struct {
			Works []struct {
				Title string `json:"title"`
			} `json:"works"`
		}
		if err := json.Unmarshal(env.Data, &result); err != nil {
			t.Fatalf("decoding data: %v", err)
		}
		if len(result.Works) == 0 || result.Works[0].Title != "Dune" {
			t.Errorf("works = %+v, want Dune", result.Works)
		}
	})

	t.Run("isbn_lookup_cached", func(t *testing.T) {
		status, env := getEnvelope(t, baseURL+"/api/enrich/isbn/9780441013593")
		if status != http.StatusOK {
			t.Fatalf("status = %d, want 200", status)
		}
		if !env.Metadata.Cached {
			t.Error("second lookup should be served from cache")
		}
	})

	var jobID, token string
	t.Run("batch_start", func(t *testing.T) {
		status, env := postEnvelope(t, baseURL+"/api/enrich/batch", map[string]any{
			"books": []map[string]string{{"isbn": "9780441013593"}},
		})
		if status != http.StatusAccepted {
			t.Fatalf("status = %d, want 202 (error: %+v)", status, env.Error)
		}
		var job struct {
			JobID     string `json:"jobId"`
			Token     string `json:"token"`
			ExpiresIn int64  `json:"expiresIn"`
		}
		if err := json.Unmarshal(env.Data, &job); err != nil {
			t.Fatalf("decoding job: %v", err)
		}
		if job.JobID == "" || job.Token == "" {
			t.Fatalf("job = %+v, want id and token", job)
		}
		if job.ExpiresIn != 7200 {
			t.Errorf("expiresIn = %d, want 7200", job.ExpiresIn)
		}
		jobID, token = job.JobID, job.Token
	})

	t.Run("batch_completes", func(t *testing.T) {
		deadline := time.Now().Add(5 * time.Second)
		for {
			status, env := getEnvelope(t, baseURL+"/api/jobs/"+jobID)
			if status != http.StatusOK {
				t.Fatalf("status = %d, want 200", status)
			}
			var state struct {
				Status    string `json:"status"`
				AuthToken string `json:"authToken"`
			}
			if err := json.Unmarshal(env.Data, &state); err != nil {
				t.Fatalf("decoding state: %v", err)
			}
			if state.AuthToken != "" {
				t.Fatal("job state must not expose the auth token")
			}
			if state.Status == "completed" {
				break
			}
			if state.Status == "failed" || state.Status == "cancelled" {
				t.Fatalf("job ended %s", state.Status)
			}
			if time.Now().After(deadline) {
				t.Fatalf("job still %s after deadline", state.Status)
			}
			time.Sleep(100 * time.Millisecond)
		}
	})

	t.Run("fresh_token_refresh_rejected", func(t *testing.T) {
		status, env := postEnvelope(t, baseURL+"/api/jobs/"+jobID+"/token/refresh",
			map[string]string{"token": token})
		if status != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401 (error: %+v)", status, env.Error)
		}
	})

	t.Run("delete_job", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/jobs/"+jobID, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		status, env := getEnvelope(t, baseURL+"/api/jobs/"+jobID)
		if status != http.StatusNotFound {
			t.Errorf("status after delete = %d, want 404 (env: %+v)", status, env)
		}
	})

	t.Run("invalid_isbn_rejected", func(t *testing.T) {
		status, env := getEnvelope(t, baseURL+"/api/enrich/isbn/not-an-isbn")
		if status != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", status)
		}
		if env.Error == nil || env.Error.Code != "INVALID_ISBN" {
			t.Errorf("error = %+v, want INVALID_ISBN", env.Error)
		}
	})
}
