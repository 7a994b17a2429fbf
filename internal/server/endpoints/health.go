package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/internal/svcctx"
)

// HealthData is the payload of the health and readiness checks.
type HealthData struct {
	Status    string   `json:"status"`
	Cache     string   `json:"cache,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }
func (e *HealthEndpoint) RateLimit() bool    { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	writeData(w, http.StatusOK, HealthData{Status: "ok"}, newMetadata(started))
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Println("Status: ok")
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready. Ready means the cache substrate and the
// provider registry are wired; a degraded cache still serves requests, so
// only a missing substrate fails readiness.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }
func (e *ReadyEndpoint) RateLimit() bool    { return false }

func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	data := HealthData{Status: "ok", Cache: "ok"}

	c := svcctx.CacheFrom(r.Context())
	reg := svcctx.ProvidersFrom(r.Context())
	if c == nil || reg == nil {
		data.Status = "degraded"
		data.Cache = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, Envelope{Data: data, Metadata: newMetadata(started)})
		return
	}
	for _, name := range reg.List() {
		data.Providers = append(data.Providers, string(name))
	}

	writeData(w, http.StatusOK, data, newMetadata(started))
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			return api.Output(resp.Data)
		},
	}
}
