// Package lnurl resolves LNURL inputs (bech32, lud17 schemes, lightning
// addresses) into their protocol parameters and runs the per-tag follow-up
// flows: channel request, withdraw, pay and auth.
package lnurl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const requestTimeout = 30 * time.Second

var (
	ErrStatusError    = fmt.Errorf("service returned error status")
	ErrNotLnurl       = fmt.Errorf("input is not an lnurl")
	ErrAmountMismatch = fmt.Errorf("invoice amount does not match requested amount")
	ErrBadDescrHash   = fmt.Errorf("invoice description hash does not commit to metadata")
)

// lud17 scheme prefixes, rewritten to https (http for onion hosts).
var schemePrefixes = []string{"lnurlp://", "lnurlw://", "lnurlc://", "keyauth://"}

type Client struct {
	HTTP http.Client
}

func NewClient() *Client {
	return &Client{HTTP: http.Client{Timeout: requestTimeout}}
}

// DecodeInput turns any accepted LNURL form into the https URL to fetch.
// Accepted forms: bech32 `lnurl1...` (optionally behind a lightning: prefix),
// lud17 scheme URLs, and lightning addresses (user@domain).
func DecodeInput(input string) (string, error) {
	raw := strings.TrimSpace(input)
	raw = strings.TrimPrefix(raw, "lightning:")
	raw = strings.TrimPrefix(raw, "LIGHTNING:")

	if name, domain, ok := splitAddress(raw); ok {
		return fmt.Sprintf("%s://%s/.well-known/lnurlp/%s", schemeForHost(domain), domain, name), nil
	}

	lower := strings.ToLower(raw)
	for _, prefix := range schemePrefixes {
		if strings.HasPrefix(lower, prefix) {
			rest := raw[len(prefix):]
			host := rest
			if i := strings.IndexAny(rest, "/?"); i >= 0 {
				host = rest[:i]
			}
			return fmt.Sprintf("%s://%s", schemeForHost(host), rest), nil
		}
	}

	if strings.HasPrefix(lower, "lnurl1") {
		hrp, data, err := bech32.DecodeNoLimit(lower)
		if err != nil {
			return "", fmt.Errorf("decode bech32: %w", err)
		}
		if hrp != "lnurl" {
			return "", fmt.Errorf("%w: unexpected human-readable part %q", ErrNotLnurl, hrp)
		}
		converted, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return "", fmt.Errorf("convert bech32 payload: %w", err)
		}
		return string(converted), nil
	}

	return "", ErrNotLnurl
}

// Resolve decodes the input, performs the initial fetch when one is needed
// and classifies the response. keyauth/login URLs resolve from their query
// string alone. A fetch failure, malformed body or ERROR status is returned
// as an error; a well-formed response with an unrecognized tag resolves to
// TagUnknown.
func (c *Client) Resolve(ctx context.Context, input string) (*Resolution, error) {
	endpoint, err := DecodeInput(input)
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse lnurl endpoint: %w", err)
	}

	if parsed.Query().Get("tag") == string(TagLogin) {
		return &Resolution{
			Tag:    TagLogin,
			URL:    endpoint,
			Domain: parsed.Hostname(),
			Login: &LoginParams{
				K1:     parsed.Query().Get("k1"),
				URL:    endpoint,
				Domain: parsed.Hostname(),
				Action: parsed.Query().Get("action"),
			},
		}, nil
	}

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("parse lnurl response: %w", err)
	}

	resolution := &Resolution{
		Tag:    TagUnknown,
		URL:    endpoint,
		Domain: parsed.Hostname(),
		Raw:    body,
	}

	switch Tag(probe.Tag) {
	case TagChannelRequest:
		params := &ChannelRequestParams{}
		if err := json.Unmarshal(body, params); err != nil {
			return nil, fmt.Errorf("parse channel request params: %w", err)
		}
		resolution.Tag = TagChannelRequest
		resolution.ChannelRequest = params
	case TagWithdrawRequest:
		params := &WithdrawRequestParams{}
		if err := json.Unmarshal(body, params); err != nil {
			return nil, fmt.Errorf("parse withdraw request params: %w", err)
		}
		resolution.Tag = TagWithdrawRequest
		resolution.Withdraw = params
	case TagPayRequest:
		params := &PayRequestParams{}
		if err := json.Unmarshal(body, params); err != nil {
			return nil, fmt.Errorf("parse pay request params: %w", err)
		}
		resolution.Tag = TagPayRequest
		resolution.Pay = params
	}

	return resolution, nil
}

// ResolveAddress resolves a lightning address (user@domain) to its
// pay-request parameters.
func (c *Client) ResolveAddress(ctx context.Context, address string) (*Resolution, error) {
	if _, _, ok := splitAddress(address); !ok {
		return nil, fmt.Errorf("%w: not a lightning address: %s", ErrNotLnurl, address)
	}
	return c.Resolve(ctx, address)
}

// DoChannelRequest connects to the peer named by the channel-request params
// and asks the service to open the channel towards localNodeID.
func (c *Client) DoChannelRequest(
	ctx context.Context, params *ChannelRequestParams, localNodeID string, private bool,
	connectPeer func(ctx context.Context, uri string) error,
) error {
	if err := connectPeer(ctx, params.URI); err != nil {
		return fmt.Errorf("connect to channel peer: %w", err)
	}

	privateFlag := "0"
	if private {
		privateFlag = "1"
	}
	callback, err := callbackURL(params.Callback, map[string]string{
		"k1":       params.K1,
		"remoteid": localNodeID,
		"private":  privateFlag,
	})
	if err != nil {
		return err
	}

	return c.getStatus(ctx, callback)
}

// DoWithdraw hands the invoice to the withdraw callback. The service pays it
// asynchronously; settlement arrives through the regular invoice stream.
func (c *Client) DoWithdraw(
	ctx context.Context, params *WithdrawRequestParams, paymentRequest string,
) error {
	callback, err := callbackURL(params.Callback, map[string]string{
		"k1": params.K1,
		"pr": paymentRequest,
	})
	if err != nil {
		return err
	}
	return c.getStatus(ctx, callback)
}

// DoPay requests an invoice for amountMsat from the pay callback and
// verifies it: the amount must match exactly and the description hash must
// commit to the metadata served at resolution time.
func (c *Client) DoPay(
	ctx context.Context, params *PayRequestParams, amountMsat int64, comment, payerName string,
) (*PayResult, error) {
	if amountMsat < params.MinSendable || amountMsat > params.MaxSendable {
		return nil, fmt.Errorf(
			"amount %d msat out of bounds [%d, %d]",
			amountMsat, params.MinSendable, params.MaxSendable,
		)
	}

	query := map[string]string{"amount": fmt.Sprintf("%d", amountMsat)}
	if comment != "" && params.CommentAllowed > 0 {
		if len(comment) > params.CommentAllowed {
			comment = comment[:params.CommentAllowed]
		}
		query["comment"] = comment
	}

	metadataToHash := []byte(params.Metadata)
	if payerName != "" && params.PayerData != nil && params.PayerData.Name != nil {
		payerData, err := json.Marshal(map[string]string{"name": payerName})
		if err != nil {
			return nil, fmt.Errorf("marshal payer data: %w", err)
		}
		query["payerdata"] = string(payerData)
		metadataToHash = append(metadataToHash, payerData...)
	}

	callback, err := callbackURL(params.Callback, query)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, callback)
	if err != nil {
		return nil, err
	}

	var response payCallbackResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parse pay callback response: %w", err)
	}
	if response.PR == "" {
		return nil, fmt.Errorf("pay callback returned no invoice")
	}

	bolt11, err := decodepay.Decodepay(response.PR)
	if err != nil {
		return nil, fmt.Errorf("decode returned invoice: %w", err)
	}
	if bolt11.MSatoshi != amountMsat {
		return nil, fmt.Errorf("%w: got %d msat, want %d", ErrAmountMismatch, bolt11.MSatoshi, amountMsat)
	}
	wantHash := sha256.Sum256(metadataToHash)
	if bolt11.DescriptionHash != hex.EncodeToString(wantHash[:]) {
		return nil, ErrBadDescrHash
	}

	return &PayResult{
		PaymentRequest: response.PR,
		SuccessAction:  response.SuccessAction,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: unexpected status %d", endpoint, res.StatusCode)
	}

	var envelope statusEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil &&
		strings.EqualFold(envelope.Status, "ERROR") {
		return nil, fmt.Errorf("%w: %s", ErrStatusError, envelope.Reason)
	}

	return body, nil
}

// getStatus performs a callback GET that only carries a status envelope.
func (c *Client) getStatus(ctx context.Context, endpoint string) error {
	_, err := c.get(ctx, endpoint)
	return err
}

func callbackURL(callback string, params map[string]string) (string, error) {
	parsed, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("parse callback url: %w", err)
	}
	query := parsed.Query()
	for key, value := range params {
		query.Set(key, value)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func schemeForHost(host string) string {
	if strings.HasSuffix(strings.ToLower(host), ".onion") {
		return "http"
	}
	return "https"
}

// splitAddress parses user@domain, rejecting anything with a scheme or path.
func splitAddress(input string) (name, domain string, ok bool) {
	if strings.ContainsAny(input, "/:") {
		return "", "", false
	}
	parts := strings.Split(input, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if !strings.Contains(parts[1], ".") && !strings.EqualFold(parts[1], "localhost") {
		return "", "", false
	}
	return parts[0], parts[1], true
}
