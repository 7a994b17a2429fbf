package endpoints

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/internal/svcctx"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// EnrichEditionsEndpoint handles GET /api/enrich/editions.
type EnrichEditionsEndpoint struct{}

func (e *EnrichEditionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/enrich/editions", e.handler
}

func (e *EnrichEditionsEndpoint) RequiresInit() bool { return true }
func (e *EnrichEditionsEndpoint) RateLimit() bool    { return true }

func (e *EnrichEditionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	q := r.URL.Query()
	title := q.Get("title")
	author := q.Get("author")
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeErrorCode(w, started, tomerr.CodeInvalidQuery, "limit must be an integer")
			return
		}
		limit = parsed
	}

	orch := svcctx.OrchestratorFrom(r.Context())
	resp, meta, err := orch.Editions(r.Context(), title, author, limit)
	if err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusOK, resp, withEnrichMeta(newMetadata(started), meta))
}

func (e *EnrichEditionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var author string
	var limit int
	cmd := &cobra.Command{
		Use:   "editions <title>",
		Short: "List editions of a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("title", args[0])
			if author != "" {
				params.Set("author", author)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}

			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Get(cmd.Context(), "/api/enrich/editions?"+params.Encode(), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author name")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum editions to return")
	return cmd
}
