package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/progress"
	"github.com/jackzampolin/tome/internal/svcctx"
)

// WSProgressEndpoint handles GET /ws/progress. The upgrade, parameter, and
// token checks live in the progress registry; this endpoint only locates it.
type WSProgressEndpoint struct{}

func (e *WSProgressEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ws/progress", e.handler
}

func (e *WSProgressEndpoint) RequiresInit() bool { return true }
func (e *WSProgressEndpoint) RateLimit() bool    { return false }

func (e *WSProgressEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svcctx.ProgressFrom(r.Context()).ServeWS(w, r)
}

// Command dials the socket, performs the ready handshake, and prints each
// frame until the job reaches a terminal state.
func (e *WSProgressEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <jobId> <token>",
		Short: "Stream live progress frames for a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := getServerURL()
			wsBase := "ws" + strings.TrimPrefix(base, "http")
			q := url.Values{"jobId": {args[0]}, "token": {args[1]}}
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsBase+"/ws/progress?"+q.Encode(), nil)
			if err != nil {
				return fmt.Errorf("dialing progress socket: %w", err)
			}
			defer conn.Close()

			if err := conn.WriteJSON(map[string]string{"type": "ready"}); err != nil {
				return err
			}
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					return err
				}
				var env progress.Envelope
				if err := json.Unmarshal(data, &env); err != nil {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				if env.Type == progress.MessageComplete || env.Type == progress.MessageError {
					return nil
				}
			}
		},
	}
}
