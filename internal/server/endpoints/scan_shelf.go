package endpoints

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tome/internal/api"
	"github.com/jackzampolin/tome/internal/jobs"
	"github.com/jackzampolin/tome/internal/svcctx"
	"github.com/jackzampolin/tome/internal/tomerr"
)

// maxPhotoBytes caps a fetched photo so a hostile URL cannot balloon memory.
const maxPhotoBytes = 20 << 20

// photoFetchClient retrieves URL photo references at intake.
var photoFetchClient = &http.Client{Timeout: 15 * time.Second}

// ScanPhoto is one uploaded shelf photo, inline base64 or a URL reference.
type ScanPhoto struct {
	Data     string `json:"data,omitempty"` // base64
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ScanRequest is the body of a shelf scan start.
type ScanRequest struct {
	Photos []ScanPhoto `json:"photos"`
}

// ScanShelfEndpoint handles POST /api/scan/shelf.
type ScanShelfEndpoint struct{}

func (e *ScanShelfEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/scan/shelf", e.handler
}

func (e *ScanShelfEndpoint) RequiresInit() bool { return true }
func (e *ScanShelfEndpoint) RateLimit() bool    { return true }

func (e *ScanShelfEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, started, tomerr.CodeInvalidQuery, "request body must be JSON with a photos array")
		return
	}

	photos := make([]jobs.Photo, 0, len(req.Photos))
	for i, p := range req.Photos {
		switch {
		case p.URL != "":
			data, mime, err := fetchPhoto(r.Context(), p.URL)
			if err != nil {
				// The URL may carry credentials, so the message never echoes it.
				writeError(w, started, tomerr.Newf(tomerr.CodeInvalidQuery, "photo %d could not be fetched", i))
				return
			}
			if p.MimeType != "" {
				mime = p.MimeType
			}
			photos = append(photos, jobs.Photo{Data: data, MimeType: mime})
		case p.Data != "":
			decoded, err := base64.StdEncoding.DecodeString(p.Data)
			if err != nil {
				writeError(w, started, tomerr.Newf(tomerr.CodeInvalidQuery, "photo %d is not valid base64", i))
				return
			}
			photos = append(photos, jobs.Photo{Data: decoded, MimeType: p.MimeType})
		default:
			writeError(w, started, tomerr.Newf(tomerr.CodeInvalidQuery, "photo %d needs data or url", i))
			return
		}
	}

	runner := svcctx.RunnerFrom(r.Context())
	job, err := runner.StartShelfScan(r.Context(), photos)
	if err != nil {
		writeError(w, started, err)
		return
	}
	writeData(w, http.StatusAccepted, job, newMetadata(started))
}

// fetchPhoto downloads one URL photo reference, bounded by maxPhotoBytes.
func fetchPhoto(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := photoFetchClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxPhotoBytes {
		return nil, "", errors.New("photo exceeds size cap")
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/jpeg"
	}
	return data, mime, nil
}

func (e *ScanShelfEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "shelf <photo> [photo...]",
		Short: "Scan bookshelf photos for book spines",
		Long:  "Each photo is a local file path or an http(s) URL the server fetches itself.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ScanRequest{}
			for _, path := range args {
				if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
					req.Photos = append(req.Photos, ScanPhoto{URL: path})
					continue
				}
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				req.Photos = append(req.Photos, ScanPhoto{
					Data:     base64.StdEncoding.EncodeToString(raw),
					MimeType: mimeFromPath(path),
				})
			}

			client := api.NewClient(getServerURL())
			var resp Envelope
			if err := client.Post(cmd.Context(), "/api/scan/shelf", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

func mimeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
