package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fortressi/saga"
)

// HTTPClient talks to a remote provider served by NewProviderHandler.
type HTTPClient struct {
	kind    Kind
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the provider at baseURL. A nil
// httpClient uses http.DefaultClient.
func NewHTTPClient(kind Kind, baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		kind:    kind,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *HTTPClient) Book(ctx context.Context, customerID string, req Request) (Result, error) {
	body, err := json.Marshal(BookRequest{CustomerID: customerID, Request: req})
	if err != nil {
		return Result{}, saga.Terminal(fmt.Errorf("encode %s booking: %w", c.kind, err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return Result{}, saga.Terminal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{}, c.statusError("book", resp)
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, saga.Transient(fmt.Errorf("decode %s booking: %w", c.kind, err))
	}
	return res, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, customerID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/bookings/"+url.PathEscape(customerID), nil)
	if err != nil {
		return saga.Terminal(err)
	}

	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return c.statusError("cancel", resp)
	}
}

// do sends req. Transport failures are transient unless ctx ended.
func (c *HTTPClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s provider: %w", c.kind, ctx.Err())
		}
		return nil, saga.Transient(fmt.Errorf("%s provider: %w", c.kind, err))
	}
	return resp, nil
}

// statusError maps a non-2xx response onto the saga error taxonomy.
func (c *HTTPClient) statusError(op string, resp *http.Response) error {
	var body ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	detail := fmt.Sprintf("%s %s: status %d: %s", c.kind, op, resp.StatusCode, body.Error)
	if body.Message != "" {
		detail += ": " + body.Message
	}

	switch {
	case body.Error == codeFullyBooked:
		return saga.Terminal(fmt.Errorf("%w: %s", ErrFullyBooked, detail))
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return saga.Transient(fmt.Errorf("%w: %s", ErrUnavailable, detail))
	default:
		return saga.Terminal(errors.New(detail))
	}
}
