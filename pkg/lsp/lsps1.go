// Package lsp talks to liquidity providers over two transports: LSPS1
// JSON-RPC carried in lightning custom messages, and the on-demand channel
// HTTP service. Responses are validated field by field before they reach the
// caller; a malformed LSP answer must never make it into a channel order.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/blixtwallet/blixtd/pkg/correlate"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

var (
	ErrValidation = fmt.Errorf("lsp response failed validation")
	ErrRPC        = fmt.Errorf("lsp returned rpc error")
)

// Sender transmits a custom message to the LSP peer.
type Sender func(ctx context.Context, peerPubkey string, msgType uint32, data []byte) error

// Client is an LSPS1 client bound to a single LSP peer. Incoming custom
// messages must be fed to HandleMessage by whoever owns the message stream.
type Client struct {
	peer       string
	send       Sender
	correlator *correlate.Correlator[*rpcResponse]
}

func NewClient(peerPubkey string, send Sender, timeout time.Duration) *Client {
	return &Client{
		peer:       peerPubkey,
		send:       send,
		correlator: correlate.New[*rpcResponse](timeout),
	}
}

// HandleMessage offers a received custom message to the client. It reports
// whether the message completed one of our in-flight requests; messages of
// other types, from other peers, or with unknown ids are left alone.
func (c *Client) HandleMessage(peerPubkey string, msgType uint32, data []byte) bool {
	if msgType != MessageType || peerPubkey != c.peer {
		return false
	}

	response := &rpcResponse{}
	if err := json.Unmarshal(data, response); err != nil {
		return false
	}
	if response.JSONRPC != jsonRPCVersion || response.ID == "" {
		return false
	}
	if response.Result == nil && response.Error == nil {
		return false
	}

	return c.correlator.Resolve(response.ID, response)
}

// GetInfo fetches and validates the LSP's order constraints.
func (c *Client) GetInfo(ctx context.Context) (*GetInfoResponse, error) {
	result, err := c.call(ctx, methodGetInfo, map[string]any{})
	if err != nil {
		return nil, err
	}

	info := &GetInfoResponse{}
	if err := json.Unmarshal(result, info); err != nil {
		return nil, fmt.Errorf("%w: get_info: %s", ErrValidation, err)
	}
	if err := validateGetInfo(info); err != nil {
		return nil, err
	}
	return info, nil
}

// CreateOrder places a channel order and validates the returned payment
// details, including that the bolt11 invoice decodes and its amount equals
// the quoted order total.
func (c *Client) CreateOrder(ctx context.Context, request CreateOrderRequest) (*CreateOrderResponse, error) {
	result, err := c.call(ctx, methodCreateOrder, request)
	if err != nil {
		return nil, err
	}

	order := &CreateOrderResponse{}
	if err := json.Unmarshal(result, order); err != nil {
		return nil, fmt.Errorf("%w: create_order: %s", ErrValidation, err)
	}
	if err := validateCreateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := correlate.NewID()

	waiter, err := c.correlator.Expect(id)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		waiter.Cancel()
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	if err := c.send(ctx, c.peer, MessageType, payload); err != nil {
		waiter.Cancel()
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	response, err := waiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%w: %s: code %d: %s",
			ErrRPC, method, response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}

func validateGetInfo(info *GetInfoResponse) error {
	satFields := map[string]string{
		"min_onchain_payment_size_sat":   info.Options.MinOnchainPaymentSizeSat,
		"min_initial_client_balance_sat": info.Options.MinInitialClientBalanceSat,
		"max_initial_client_balance_sat": info.Options.MaxInitialClientBalanceSat,
		"min_initial_lsp_balance_sat":    info.Options.MinInitialLspBalanceSat,
		"max_initial_lsp_balance_sat":    info.Options.MaxInitialLspBalanceSat,
		"min_channel_balance_sat":        info.Options.MinChannelBalanceSat,
		"max_channel_balance_sat":        info.Options.MaxChannelBalanceSat,
	}
	for name, value := range satFields {
		if _, err := parseSat(value); err != nil {
			return fmt.Errorf("%w: get_info option %s: %s", ErrValidation, name, err)
		}
	}
	if info.Options.MaxChannelExpiryBlocks == 0 {
		return fmt.Errorf("%w: get_info option max_channel_expiry_blocks is zero", ErrValidation)
	}

	minLsp, _ := parseSat(info.Options.MinInitialLspBalanceSat)
	maxLsp, _ := parseSat(info.Options.MaxInitialLspBalanceSat)
	if minLsp > maxLsp {
		return fmt.Errorf("%w: get_info lsp balance bounds inverted", ErrValidation)
	}
	return nil
}

func validateCreateOrder(order *CreateOrderResponse) error {
	if order.OrderID == "" {
		return fmt.Errorf("%w: create_order is missing order_id", ErrValidation)
	}
	if _, err := parseSat(order.LspBalanceSat); err != nil {
		return fmt.Errorf("%w: create_order lsp_balance_sat: %s", ErrValidation, err)
	}
	if _, err := parseSat(order.ClientBalanceSat); err != nil {
		return fmt.Errorf("%w: create_order client_balance_sat: %s", ErrValidation, err)
	}
	if order.Payment.Bolt11 == nil {
		return fmt.Errorf("%w: create_order has no bolt11 payment option", ErrValidation)
	}

	feeSat, err := parseSat(order.Payment.Bolt11.FeeTotalSat)
	if err != nil {
		return fmt.Errorf("%w: create_order fee_total_sat: %s", ErrValidation, err)
	}
	totalSat, err := parseSat(order.Payment.Bolt11.OrderTotalSat)
	if err != nil {
		return fmt.Errorf("%w: create_order order_total_sat: %s", ErrValidation, err)
	}
	clientSat, _ := parseSat(order.ClientBalanceSat)
	if totalSat != feeSat+clientSat {
		return fmt.Errorf("%w: create_order totals do not add up: %d != %d + %d",
			ErrValidation, totalSat, feeSat, clientSat)
	}

	bolt11, err := decodepay.Decodepay(order.Payment.Bolt11.Invoice)
	if err != nil {
		return fmt.Errorf("%w: create_order invoice does not decode: %s", ErrValidation, err)
	}
	if bolt11.MSatoshi != totalSat*1000 {
		return fmt.Errorf("%w: create_order invoice amount %d msat does not match order total %d sat",
			ErrValidation, bolt11.MSatoshi, totalSat)
	}
	return nil
}

func parseSat(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	sat, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a sat amount: %q", value)
	}
	if sat < 0 {
		return 0, fmt.Errorf("negative sat amount: %d", sat)
	}
	return sat, nil
}
