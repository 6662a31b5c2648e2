package adaptor

import "net/http"

// HTTPClient abstracts the transport used by HTTP-based enrichment providers
// and the Slack webhook, so tests can inject a recorded client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
