package checker

import (
	"net/http"
	"time"
)

// UserAgent is sent on every probe
const UserAgent = "sentinel-checker/1.0"

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient creates a pooled client for probes. Per-probe deadlines come
// from the request context; the client timeout is only an upper bound.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 35 * time.Second,
		Transport: &userAgentTransport{base: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}},
	}
}
