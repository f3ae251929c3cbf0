package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emberchat/ember-core/internal/entity"
)

// HTTPClient implements Client against the sync API:
//
//	GET    {base}/v1/{type}?since=<RFC3339>
//	POST   {base}/v1/{type}
//	PUT    {base}/v1/{type}/{id}[?force=1]
//	DELETE {base}/v1/{type}/{id}
type HTTPClient struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

// NewHTTPClient creates a client for the service at baseURL. A nil httpc
// falls back to a 15s-timeout client.
func NewHTTPClient(baseURL string, tokens TokenSource, httpc *http.Client) *HTTPClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		http:   httpc,
		tokens: tokens,
	}
}

// List implements Client.
func (c *HTTPClient) List(ctx context.Context, typ entity.Type, since time.Time) ([]Record, error) {
	endpoint := c.base + "/v1/" + string(typ)
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	var out []Record
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, typ entity.Type, rec Record) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPost, c.base+"/v1/"+string(typ), &rec, &out)
	return out, err
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, typ entity.Type, rec Record, force bool) (Record, error) {
	endpoint := c.base + "/v1/" + string(typ) + "/" + url.PathEscape(rec.ID)
	if force {
		endpoint += "?force=1"
	}
	var out Record
	err := c.do(ctx, http.MethodPut, endpoint, &rec, &out)
	return out, err
}

// Delete implements Client. A 404 means the record is already gone, which
// is the outcome the caller wanted.
func (c *HTTPClient) Delete(ctx context.Context, typ entity.Type, id string) error {
	endpoint := c.base + "/v1/" + string(typ) + "/" + url.PathEscape(id)
	err := c.do(ctx, http.MethodDelete, endpoint, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s %s: %w", method, endpoint, ErrTimeout)
		}
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrUnauthorized)

	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrNotFound)

	case resp.StatusCode == http.StatusConflict:
		var server Record
		if err := json.NewDecoder(resp.Body).Decode(&server); err != nil {
			return fmt.Errorf("%s %s: conflict with undecodable server record: %w", method, endpoint, err)
		}
		return &ConflictError{Server: server}

	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, endpoint, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
