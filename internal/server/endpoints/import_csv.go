package endpoints

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/internal/svcctx"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// ImportCSVEndpoint handles POST /api/import/csv. The body is the raw export
// text; parsing happens asynchronously in the csv_import pipeline.
type ImportCSVEndpoint struct{}

func (e *ImportCSVEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/import/csv", e.handler
}

func (e *ImportCSVEndpoint) RequiresInit() bool { return true }
func (e *ImportCSVEndpoint) RateLimit() bool    { return true }

func (e *ImportCSVEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	runner := svcctx.RunnerFrom(r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorCode(w, started, tomerr.CodeInvalidQuery, "reading request body failed")
		return
	}

	job, err := runner.StartCSVImport(r.Context(), string(body))
	if err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusAccepted, job, newMetadata(started))
}

func (e *ImportCSVEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "csv <file.csv>",
		Short: "Import a book list export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.PostRaw(cmd.Context(), "/api/import/csv", "text/csv", bytes.NewReader(raw), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
