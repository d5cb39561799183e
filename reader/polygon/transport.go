package polygon

import "net/http"

// authTransport sends the API key as a bearer token so it never appears in
// request URLs, and therefore never in logged transport errors.
type authTransport struct {
	apiKey string
	agent  string
	base   http.RoundTripper
}

func (t authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("User-Agent", t.agent)
	req.Header.Set("Accept", "application/json")
	return t.base.RoundTrip(req)
}
