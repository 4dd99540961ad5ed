package observability

import (
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

const UserAgent = "certmint/1.0"

// userAgentTransport sets a default User-Agent so relayer and email provider
// logs can attribute our calls.
type userAgentTransport struct {
	next http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", UserAgent)
	return t.next.RoundTrip(clone)
}

// WrapRoundTripper traces outbound requests as Sentry spans. Trace headers go
// only to hosts in propagateTo.
func WrapRoundTripper(base http.RoundTripper, propagateTo ...string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if propagateTo == nil {
		propagateTo = []string{}
	}
	traced := sentryhttpclient.NewSentryRoundTripper(
		base,
		sentryhttpclient.WithTracePropagationTargets(propagateTo),
	)
	return userAgentTransport{next: traced}
}

// NewHTTPClient returns a client with its own connection pool so a slow
// upstream cannot starve the others.
func NewHTTPClient(timeout time.Duration, propagateTo ...string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10
	transport.ResponseHeaderTimeout = timeout

	client := &http.Client{Transport: WrapRoundTripper(transport, propagateTo...)}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}
