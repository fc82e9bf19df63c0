package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const callTimeout = 30 * time.Second

// httpClient is the shared transport used by every REST-speaking adapter:
// per-call timeout, proactive per-provider throttling, and taxonomy mapping
// of every non-2xx response.
type httpClient struct {
	provider ProviderType
	baseURL  string
	hc       *http.Client
	limiter  *rate.Limiter
}

func newHTTPClient(provider ProviderType, baseURL string, rps float64) *httpClient {
	if rps <= 0 {
		rps = 5
	}
	return &httpClient{
		provider: provider,
		baseURL:  baseURL,
		hc:       &http.Client{Timeout: callTimeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// doJSON issues a request and decodes a JSON response into out (out may be
// nil when the body is irrelevant).
func (c *httpClient) doJSON(ctx context.Context, method, path string, query url.Values, headers map[string]string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransport(c.provider, err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.provider, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.provider, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return classifyTransport(c.provider, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if err := classifyStatus(c.provider, resp.StatusCode, resp.Header, string(raw)); err != nil {
		return err
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", c.provider, err)
		}
	}
	return nil
}

// bearer builds the Authorization header map for token-style auth.
func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
