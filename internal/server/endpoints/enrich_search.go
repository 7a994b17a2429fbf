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

// EnrichSearchEndpoint handles GET /api/enrich/search. A title-only query is
// a title search, an author-only query an author search; any other populated
// combination runs the advanced multi-field path.
type EnrichSearchEndpoint struct{}

func (e *EnrichSearchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/enrich/search", e.handler
}

func (e *EnrichSearchEndpoint) RequiresInit() bool { return true }
func (e *EnrichSearchEndpoint) RateLimit() bool    { return true }

func (e *EnrichSearchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	q := r.URL.Query()
	title := q.Get("title")
	author := q.Get("author")
	publisher := q.Get("publisher")
	year := 0
	if raw := q.Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeErrorCode(w, started, tomerr.CodeInvalidQuery, "year must be an integer")
			return
		}
		year = parsed
	}

	orch := svcctx.OrchestratorFrom(r.Context())
	ctx := r.Context()

	switch {
	case title == "" && author == "" && publisher == "" && year == 0:
		writeErrorCode(w, started, tomerr.CodeMissingParameter, "at least one of title, author, year, publisher is required")
		return
	case author == "" && publisher == "" && year == 0:
		resp, meta, err := orch.ByTitle(ctx, title)
		if err != nil {
			writeError(w, started, err)
			return
		}
		writeData(w, http.StatusOK, resp, withEnrichMeta(newMetadata(started), meta))
	case title == "" && publisher == "" && year == 0:
		resp, meta, err := orch.ByAuthor(ctx, author)
		if err != nil {
			writeError(w, started, err)
			return
		}
		writeData(w, http.StatusOK, resp, withEnrichMeta(newMetadata(started), meta))
	default:
		resp, meta, err := orch.Advanced(ctx, title, author, year, publisher)
		if err != nil {
			writeError(w, started, err)
			return
		}
		writeData(w, http.StatusOK, resp, withEnrichMeta(newMetadata(started), meta))
	}
}

func (e *EnrichSearchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var author, publisher string
	var year int
	cmd := &cobra.Command{
		Use:   "search [title]",
		Short: "Search by title, author, or a field combination",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if len(args) == 1 {
				params.Set("title", args[0])
			}
			if author != "" {
				params.Set("author", author)
			}
			if publisher != "" {
				params.Set("publisher", publisher)
			}
			if year > 0 {
				params.Set("year", strconv.Itoa(year))
			}

			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Get(cmd.Context(), "/api/enrich/search?"+params.Encode(), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author name")
	cmd.Flags().StringVar(&publisher, "publisher", "", "publisher name")
	cmd.Flags().IntVar(&year, "year", 0, "first publication year")
	return cmd
}
