package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OnDemandClient talks to the on-demand channel service: a wallet pays an
// invoice larger than its inbound capacity and the service opens a zero-conf
// channel pushing the amount, minus its fee, to the wallet.
type OnDemandClient struct {
	URL    string
	Client http.Client
}

func NewOnDemandClient(serverURL string) *OnDemandClient {
	return &OnDemandClient{
		URL:    strings.TrimSuffix(serverURL, "/"),
		Client: http.Client{Timeout: 30 * time.Second},
	}
}

func (c *OnDemandClient) ServiceStatus(ctx context.Context) (*ServiceStatusResponse, error) {
	return sendGetRequest[ServiceStatusResponse](ctx, c, "/ondemand-channel/service-status")
}

// Register announces an upcoming payment: the service learns the preimage so
// it can settle the incoming HTLC once the channel to us is open. Signature
// is the node signature over the preimage, proving the registration comes
// from the key that will receive the channel.
func (c *OnDemandClient) Register(ctx context.Context, request RegisterRequest) (*RegisterResponse, error) {
	return sendPostRequest[RegisterResponse](ctx, c, "/ondemand-channel/register", request)
}

func (c *OnDemandClient) CheckStatus(ctx context.Context, request CheckStatusRequest) (*CheckStatusResponse, error) {
	return sendPostRequest[CheckStatusResponse](ctx, c, "/ondemand-channel/check-status", request)
}

// Claim asks the service to open the channel for funds it holds for us from
// settlements that happened while we were offline.
func (c *OnDemandClient) Claim(ctx context.Context, request ClaimRequest) (*ClaimResponse, error) {
	return sendPostRequest[ClaimResponse](ctx, c, "/ondemand-channel/claim", request)
}

func sendGetRequest[T any](ctx context.Context, c *OnDemandClient, endpoint string) (*T, error) {
	return callApi[T](ctx, &c.Client, http.MethodGet, c.URL+endpoint, nil)
}

func sendPostRequest[T any](ctx context.Context, c *OnDemandClient, endpoint string, requestBody any) (*T, error) {
	return callApi[T](ctx, &c.Client, http.MethodPost, c.URL+endpoint, requestBody)
}

func callApi[T any](ctx context.Context, c *http.Client, method, url string, reqBody any) (*T, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var fail errorResponse
		if err := json.Unmarshal(raw, &fail); err == nil && fail.Reason != "" {
			return nil, fmt.Errorf("%s %s: %s", method, url, fail.Reason)
		}
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, url, res.StatusCode)
	}

	var fail errorResponse
	if err := json.Unmarshal(raw, &fail); err == nil &&
		strings.EqualFold(fail.Status, "ERROR") {
		return nil, fmt.Errorf("%s %s: %s", method, url, fail.Reason)
	}

	parsed := new(T)
	if err := json.Unmarshal(raw, parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return parsed, nil
}
