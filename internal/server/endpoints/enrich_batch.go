package endpoints

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/internal/enrich"
	"github.com/jackzampolin/tome/internal/svcctx"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// BatchRequest is the body of a batch enrichment start.
type BatchRequest struct {
	Books []enrich.BookQuery `json:"books"`
}

// EnrichBatchEndpoint handles POST /api/enrich/batch. Accepted batches run
// asynchronously; the 202 body carries the job id and its capability token.
type EnrichBatchEndpoint struct{}

func (e *EnrichBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/enrich/batch", e.handler
}

func (e *EnrichBatchEndpoint) RequiresInit() bool { return true }
func (e *EnrichBatchEndpoint) RateLimit() bool    { return true }

func (e *EnrichBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, started, tomerr.CodeInvalidQuery, "request body must be JSON with a books array")
		return
	}

	runner := svcctx.RunnerFrom(r.Context())
	job, err := runner.StartBatchEnrichment(r.Context(), req.Books)
	if err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusAccepted, job, newMetadata(started))
}

func (e *EnrichBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file.json>",
		Short: "Start a batch enrichment from a JSON file of books",
		Long: `Start an asynchronous batch enrichment.

The file holds {"books": [{"isbn": "..."} | {"title": "...", "author": "..."}]}.
The response contains the job id and the WebSocket token for progress.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var req BatchRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Post(cmd.Context(), "/api/enrich/batch", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
