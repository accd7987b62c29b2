package ports

import (
	"context"

	"github.com/lightningnetwork/lnd/lnrpc"
)

// ChannelProposal is an inbound channel-open request surfaced by the engine's
// channel acceptor stream. NodePubkey and PendingChanID are hex encoded.
type ChannelProposal struct {
	NodePubkey     string
	PendingChanID  string
	CommitmentType lnrpc.CommitmentType
	WantsZeroConf  bool
	FundingAmt     uint64
	PushAmt        uint64
}

// ChannelDecision is the synchronous answer to a ChannelProposal. Error is
// the reject reason relayed to the peer when Accept is false.
type ChannelDecision struct {
	Accept   bool
	ZeroConf bool
	Error    string
}

// LnService is the payment engine. The adapter owns the connection and the
// long-lived event streams; invoice and custom-message events are published
// on the EventBus handed to it at construction.
type LnService interface {
	Connect(ctx context.Context, lndconnectUrl string) error
	Disconnect()
	IsConnected() bool
	GetInfo(ctx context.Context) (version string, pubkey string, err error)

	AddInvoice(
		ctx context.Context, valueSat int64, memo string, expirySec int64,
	) (paymentRequest string, paymentHash string, err error)
	AddInvoiceWithPreimage(
		ctx context.Context, valueSat int64, memo string, preimage []byte,
	) (paymentRequest string, paymentHash string, err error)
	DecodePayReq(ctx context.Context, paymentRequest string) (*lnrpc.PayReq, error)
	LookupInvoice(ctx context.Context, paymentHash string) (*lnrpc.Invoice, error)
	PayInvoice(ctx context.Context, paymentRequest string, amountSat int64) (*lnrpc.Payment, error)
	TrackPayment(ctx context.Context, paymentHash string) (*lnrpc.Payment, error)

	ConnectPeer(ctx context.Context, uri string) error
	SendCustomMessage(ctx context.Context, peerPubkey string, msgType uint32, data []byte) error
	SignMessage(ctx context.Context, msg []byte) (signature string, err error)

	SubscribeInvoices(ctx context.Context) error
	SubscribeCustomMessages(ctx context.Context) error
	RunChannelAcceptor(ctx context.Context, decide func(ChannelProposal) ChannelDecision) error
}
