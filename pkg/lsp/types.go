package lsp

import "encoding/json"

// LSPS0 transport: JSON-RPC 2.0 carried in peer custom messages.
const (
	MessageType    = 37913
	jsonRPCVersion = "2.0"

	methodGetInfo     = "lsps1.get_info"
	methodCreateOrder = "lsps1.create_order"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// GetInfoResponse lists the LSP's order constraints. Sat amounts are strings
// on the wire per LSPS0.
type GetInfoResponse struct {
	Options GetInfoOptions `json:"options"`
}

type GetInfoOptions struct {
	MinRequiredChannelConfirmations uint32 `json:"min_required_channel_confirmations"`
	MinOnchainPaymentConfirmations  uint32 `json:"min_onchain_payment_confirmations"`
	SupportsZeroChannelReserve      bool   `json:"supports_zero_channel_reserve"`
	MinOnchainPaymentSizeSat        string `json:"min_onchain_payment_size_sat"`
	MaxChannelExpiryBlocks          uint32 `json:"max_channel_expiry_blocks"`
	MinInitialClientBalanceSat      string `json:"min_initial_client_balance_sat"`
	MaxInitialClientBalanceSat      string `json:"max_initial_client_balance_sat"`
	MinInitialLspBalanceSat         string `json:"min_initial_lsp_balance_sat"`
	MaxInitialLspBalanceSat         string `json:"max_initial_lsp_balance_sat"`
	MinChannelBalanceSat            string `json:"min_channel_balance_sat"`
	MaxChannelBalanceSat            string `json:"max_channel_balance_sat"`
}

type CreateOrderRequest struct {
	LspBalanceSat                string `json:"lsp_balance_sat"`
	ClientBalanceSat             string `json:"client_balance_sat"`
	RequiredChannelConfirmations uint32 `json:"required_channel_confirmations"`
	FundingConfirmsWithinBlocks  uint32 `json:"funding_confirms_within_blocks"`
	ChannelExpiryBlocks          uint32 `json:"channel_expiry_blocks"`
	Token                        string `json:"token,omitempty"`
	RefundOnchainAddress         string `json:"refund_onchain_address,omitempty"`
	AnnounceChannel              bool   `json:"announce_channel"`
}

type CreateOrderResponse struct {
	OrderID          string       `json:"order_id"`
	LspBalanceSat    string       `json:"lsp_balance_sat"`
	ClientBalanceSat string       `json:"client_balance_sat"`
	OrderState       string       `json:"order_state"`
	Payment          OrderPayment `json:"payment"`
}

type OrderPayment struct {
	Bolt11 *Bolt11Payment `json:"bolt11"`
}

type Bolt11Payment struct {
	State       string `json:"state"`
	ExpiresAt   string `json:"expires_at"`
	FeeTotalSat string `json:"fee_total_sat"`
	OrderTotalSat string `json:"order_total_sat"`
	Invoice     string `json:"invoice"`
}

// On-demand channel service wire types.

type ServiceStatusResponse struct {
	Status            bool   `json:"status"`
	ApproxFeeSat      int64  `json:"approxFeeSat"`
	MinimumPaymentSat int64  `json:"minimumPaymentSat"`
	PeerURI           string `json:"peer"`
}

type RegisterRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
	Preimage  string `json:"preimage"`
	AmountSat int64  `json:"amountSat"`
}

type RegisterResponse struct {
	Status string `json:"status"`
}

type CheckStatusRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

type CheckStatusResponse struct {
	State              string `json:"state"`
	UnclaimedAmountSat int64  `json:"unclaimedAmountSat"`
}

type ClaimRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

type ClaimResponse struct {
	Status    string `json:"status"`
	AmountSat int64  `json:"amountSat"`
}

type errorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}
