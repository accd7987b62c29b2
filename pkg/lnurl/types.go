package lnurl

import "encoding/json"

// Tag classifies a resolved LNURL. The set is closed: anything well-formed
// but unrecognized maps to TagUnknown.
type Tag string

const (
	TagChannelRequest  Tag = "channelRequest"
	TagWithdrawRequest Tag = "withdrawRequest"
	TagPayRequest      Tag = "payRequest"
	TagLogin           Tag = "login"
	TagUnknown         Tag = "unknown"
)

// Resolution is the outcome of decoding and fetching an LNURL. Exactly one
// of the per-tag param structs is non-nil, matching Tag; Raw holds the
// untouched response body for TagUnknown.
type Resolution struct {
	Tag    Tag
	URL    string
	Domain string

	ChannelRequest *ChannelRequestParams
	Withdraw       *WithdrawRequestParams
	Pay            *PayRequestParams
	Login          *LoginParams
	Raw            json.RawMessage
}

type ChannelRequestParams struct {
	Tag      string `json:"tag"`
	URI      string `json:"uri"`
	Callback string `json:"callback"`
	K1       string `json:"k1"`
}

// WithdrawRequestParams bounds are millisatoshi.
type WithdrawRequestParams struct {
	Tag                string `json:"tag"`
	Callback           string `json:"callback"`
	K1                 string `json:"k1"`
	DefaultDescription string `json:"defaultDescription"`
	MinWithdrawable    int64  `json:"minWithdrawable"`
	MaxWithdrawable    int64  `json:"maxWithdrawable"`
}

// PayRequestParams bounds are millisatoshi. Metadata is the raw LUD-06
// metadata string whose sha256 must match the description hash of the
// invoice returned by the callback.
type PayRequestParams struct {
	Tag            string         `json:"tag"`
	Callback       string         `json:"callback"`
	MinSendable    int64          `json:"minSendable"`
	MaxSendable    int64          `json:"maxSendable"`
	Metadata       string         `json:"metadata"`
	CommentAllowed int            `json:"commentAllowed"`
	PayerData      *PayerDataSpec `json:"payerData,omitempty"`
}

type PayerDataSpec struct {
	Name       *PayerDataField `json:"name,omitempty"`
	Identifier *PayerDataField `json:"identifier,omitempty"`
	Email      *PayerDataField `json:"email,omitempty"`
	Pubkey     *PayerDataField `json:"pubkey,omitempty"`
}

type PayerDataField struct {
	Mandatory bool `json:"mandatory"`
}

// LoginParams come from the keyauth query string, no fetch involved.
type LoginParams struct {
	K1     string
	URL    string
	Domain string
	Action string
}

// PayResult is the verified outcome of a pay-request callback.
type PayResult struct {
	PaymentRequest string
	SuccessAction  *SuccessAction
}

type SuccessAction struct {
	Tag         string `json:"tag"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Ciphertext  string `json:"ciphertext,omitempty"`
	IV          string `json:"iv,omitempty"`
}

type payCallbackResponse struct {
	PR            string         `json:"pr"`
	SuccessAction *SuccessAction `json:"successAction"`
}

// statusEnvelope is the LUD-01 status wrapper used by every callback.
type statusEnvelope struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}
