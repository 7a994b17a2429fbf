package endpoints

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/internal/svcctx"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// EnrichISBNEndpoint handles GET /api/enrich/isbn/{isbn}.
type EnrichISBNEndpoint struct{}

func (e *EnrichISBNEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/enrich/isbn/{isbn}", e.handler
}

func (e *EnrichISBNEndpoint) RequiresInit() bool { return true }
func (e *EnrichISBNEndpoint) RateLimit() bool    { return true }

func (e *EnrichISBNEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	isbn := r.PathValue("isbn")
	if isbn == "" {
		writeErrorCode(w, started, tomerr.CodeMissingParameter, "isbn is required")
		return
	}

	orch := svcctx.OrchestratorFrom(r.Context())
	resp, meta, err := orch.ByISBN(r.Context(), isbn)
	if err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusOK, resp, withEnrichMeta(newMetadata(started), meta))
}

func (e *EnrichISBNEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "isbn <isbn>",
		Short: "Enrich a single ISBN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Get(cmd.Context(), "/api/enrich/isbn/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
