package providers

import (
	"net/http"

	"golang.org/x/time/rate"
)

// throttledTransport rate limits outbound requests to an upstream.
type throttledTransport struct {
	http.RoundTripper
	*rate.Limiter
}

func (t throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.RoundTripper.RoundTrip(r)
}

// scopedTransport pins requests to a particular host over https.
type scopedTransport struct {
	host string
	http.RoundTripper
}

func (t scopedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = "https"
	r.URL.Host = t.host
	return t.RoundTripper.RoundTrip(r)
}

// newHTTPClient builds a client with per-upstream throttling. rps <= 0
// disables throttling.
func newHTTPClient(rps float64) *http.Client {
	transport := http.DefaultTransport
	if rps > 0 {
		transport = throttledTransport{
			RoundTripper: transport,
			Limiter:      rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		}
	}
	return &http.Client{Transport: transport}
}
