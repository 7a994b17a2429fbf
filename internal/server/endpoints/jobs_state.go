package endpoints

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/internal/svcctx"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// JobGetEndpoint handles GET /api/jobs/{jobId}. The snapshot is the same
// state the WebSocket streams, so clients that missed frames catch up here.
type JobGetEndpoint struct{}

func (e *JobGetEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{jobId}", e.handler
}

func (e *JobGetEndpoint) RequiresInit() bool { return true }
func (e *JobGetEndpoint) RateLimit() bool    { return true }

func (e *JobGetEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	jobID := r.PathValue("jobId")
	if jobID == "" {
		writeErrorCode(w, started, tomerr.CodeMissingParameter, "jobId is required")
		return
	}

	reg := svcctx.ProgressFrom(r.Context())
	if !reg.Known(r.Context(), jobID) {
		writeErrorCode(w, started, tomerr.CodeNotFound, "job not found")
		return
	}
	state, err := reg.Get(r.Context(), jobID).State(r.Context())
	if err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusOK, state.Public(), newMetadata(started))
}

func (e *JobGetEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <jobId>",
		Short: "Get a job's state snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// JobListEndpoint handles GET /api/jobs.
type JobListEndpoint struct{}

func (e *JobListEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *JobListEndpoint) RequiresInit() bool { return true }
func (e *JobListEndpoint) RateLimit() bool    { return true }

func (e *JobListEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	reg := svcctx.ProgressFrom(r.Context())
	states, err := reg.List(r.Context())
	if err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusOK, states, newMetadata(started))
}

func (e *JobListEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Get(cmd.Context(), "/api/jobs", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// JobCancelEndpoint handles POST /api/jobs/{jobId}/cancel.
type JobCancelEndpoint struct{}

func (e *JobCancelEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{jobId}/cancel", e.handler
}

func (e *JobCancelEndpoint) RequiresInit() bool { return true }
func (e *JobCancelEndpoint) RateLimit() bool    { return true }

func (e *JobCancelEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	jobID := r.PathValue("jobId")

	reg := svcctx.ProgressFrom(r.Context())
	if !reg.Known(r.Context(), jobID) {
		writeErrorCode(w, started, tomerr.CodeNotFound, "job not found")
		return
	}
	already, err := reg.Get(r.Context(), jobID).Cancel(r.Context())
	if err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"jobId":            jobID,
		"status":           "cancelled",
		"alreadyCancelled": already,
	}, newMetadata(started))
}

func (e *JobCancelEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <jobId>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// TokenRefreshRequest is the body of a token refresh.
type TokenRefreshRequest struct {
	Token string `json:"token"`
}

// JobTokenRefreshEndpoint handles POST /api/jobs/{jobId}/token/refresh.
// Refresh succeeds only inside the trailing window of the current token's
// lifetime; the old token stays valid until its original expiry.
type JobTokenRefreshEndpoint struct{}

func (e *JobTokenRefreshEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{jobId}/token/refresh", e.handler
}

func (e *JobTokenRefreshEndpoint) RequiresInit() bool { return true }
func (e *JobTokenRefreshEndpoint) RateLimit() bool    { return true }

func (e *JobTokenRefreshEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	jobID := r.PathValue("jobId")

	var req TokenRefreshRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeErrorCode(w, started, tomerr.CodeMissingParameter, "token is required")
		return
	}

	reg := svcctx.ProgressFrom(r.Context())
	if !reg.Known(r.Context(), jobID) {
		writeErrorCode(w, started, tomerr.CodeNotFound, "job not found")
		return
	}
	grant, err := reg.Get(r.Context(), jobID).RefreshToken(r.Context(), req.Token)
	if err != nil {
		writeError(w, started, tomerr.New(tomerr.CodeUnauthorized, err.Error()))
		return
	}
	writeData(w, http.StatusOK, grant, newMetadata(started))
}

func (e *JobTokenRefreshEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-token <jobId> <token>",
		Short: "Refresh a job's WebSocket token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Envelope
			err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/token/refresh",
				TokenRefreshRequest{Token: args[1]}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// JobDeleteEndpoint handles DELETE /api/jobs/{jobId}.
type JobDeleteEndpoint struct{}

func (e *JobDeleteEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/jobs/{jobId}", e.handler
}

func (e *JobDeleteEndpoint) RequiresInit() bool { return true }
func (e *JobDeleteEndpoint) RateLimit() bool    { return true }

func (e *JobDeleteEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	jobID := r.PathValue("jobId")

	reg := svcctx.ProgressFrom(r.Context())
	if !reg.Known(r.Context(), jobID) {
		writeErrorCode(w, started, tomerr.CodeNotFound, "job not found")
		return
	}
	if err := reg.Delete(r.Context(), jobID); err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"jobId": jobID, "deleted": true}, newMetadata(started))
}

func (e *JobDeleteEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <jobId>",
		Short: "Delete a job and its persisted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/jobs/"+args[0]); err != nil {
				return err
			}
			return api.Output(map[string]any{"jobId": args[0], "deleted": true})
		},
	}
}
