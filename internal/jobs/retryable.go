package jobs

import (
	"context"
	"errors"
	"net"
	"net/http"

	openai "github.com/openai/openai-go/v3"

	"github.com/jackzampolin/tome/internal/tomerr"
)

// classifyModelErr maps a multimodal model failure onto an envelope code and
// retryability. Rate-limit and quota errors keep their upstream message so
// clients can honor the model's own guidance.
func classifyModelErr(err error) (code string, retryable bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return string(tomerr.CodeRateLimitExceeded), true
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return string(tomerr.CodeProviderError), false
		}
		return string(tomerr.CodeProviderError), true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(tomerr.CodeProviderError), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return string(tomerr.CodeProviderError), true
	}
	// Garbled model output and transport hiccups are worth a retry.
	return string(tomerr.CodeProviderError), true
}
