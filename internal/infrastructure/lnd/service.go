package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

var (
	ErrServiceNotConnected = fmt.Errorf("lnd service not connected")
)

// shutdownMessages are stream errors that mean the node is going away
// gracefully rather than the stream genuinely failing.
var shutdownMessages = []string{
	"EOF",
	"error reading from server: EOF",
	"channel event store shutting down",
	"chain notifier shutting down",
}

type service struct {
	client   lnrpc.LightningClient
	router   routerrpc.RouterClient
	conn     *grpc.ClientConn
	macaroon string
	bus      ports.EventBus
}

func NewService(eventBus ports.EventBus) ports.LnService {
	return &service{bus: eventBus}
}

func (s *service) Connect(ctx context.Context, lndconnectUrl string) error {
	if len(lndconnectUrl) == 0 {
		return fmt.Errorf("empty lndconnect url")
	}

	client, router, conn, macaroon, err := getClient(lndconnectUrl)
	if err != nil {
		return fmt.Errorf("unable to get client: %v", err)
	}

	ctx = getCtx(ctx, macaroon)
	info, err := client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return fmt.Errorf("unable to get info: %v", err)
	}

	if len(info.GetVersion()) == 0 {
		return fmt.Errorf("something went wrong, version is empty")
	}
	if len(info.GetIdentityPubkey()) == 0 {
		return fmt.Errorf("something went wrong, pubkey is empty")
	}

	s.client = client
	s.router = router
	s.conn = conn
	s.macaroon = macaroon

	logrus.Infof("connected to LND version %s with pubkey %s", info.GetVersion(), info.GetIdentityPubkey())

	return nil
}

func (s *service) Disconnect() {
	s.conn.Close()
	s.client = nil
	s.router = nil
	s.conn = nil
}

func (s *service) IsConnected() bool {
	return s.client != nil
}

func (s *service) GetInfo(ctx context.Context) (version, pubkey string, err error) {
	if !s.IsConnected() {
		err = ErrServiceNotConnected
		return
	}

	ctx = getCtx(ctx, s.macaroon)
	info, err := s.client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return
	}

	return info.Version, info.IdentityPubkey, nil
}

func (s *service) AddInvoice(
	ctx context.Context, valueSat int64, memo string, expirySec int64,
) (string, string, error) {
	if !s.IsConnected() {
		return "", "", ErrServiceNotConnected
	}

	ctx = getCtx(ctx, s.macaroon)
	invoice, err := s.client.AddInvoice(ctx, &lnrpc.Invoice{
		Value:  valueSat,
		Memo:   memo,
		Expiry: expirySec,
	})
	if err != nil {
		return "", "", err
	}

	return invoice.PaymentRequest, hex.EncodeToString(invoice.RHash), nil
}

// AddInvoiceWithPreimage creates an invoice whose preimage is supplied by the
// caller instead of generated by the node. Channel-on-demand providers need
// this: they hold the preimage hostage until the channel is open.
func (s *service) AddInvoiceWithPreimage(
	ctx context.Context, valueSat int64, memo string, preimage []byte,
) (string, string, error) {
	if !s.IsConnected() {
		return "", "", ErrServiceNotConnected
	}
	if len(preimage) != 32 {
		return "", "", fmt.Errorf("preimage must be 32 bytes, got %d", len(preimage))
	}

	ctx = getCtx(ctx, s.macaroon)
	invoice, err := s.client.AddInvoice(ctx, &lnrpc.Invoice{
		Value:     valueSat,
		Memo:      memo,
		RPreimage: preimage,
	})
	if err != nil {
		return "", "", err
	}

	return invoice.PaymentRequest, hex.EncodeToString(invoice.RHash), nil
}

func (s *service) DecodePayReq(ctx context.Context, paymentRequest string) (*lnrpc.PayReq, error) {
	if !s.IsConnected() {
		return nil, ErrServiceNotConnected
	}

	ctx = getCtx(ctx, s.macaroon)
	return s.client.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: paymentRequest})
}

func (s *service) LookupInvoice(ctx context.Context, paymentHash string) (*lnrpc.Invoice, error) {
	if !s.IsConnected() {
		return nil, ErrServiceNotConnected
	}

	hash, err := hex.DecodeString(paymentHash)
	if err != nil {
		return nil, fmt.Errorf("invalid payment hash: %w", err)
	}

	ctx = getCtx(ctx, s.macaroon)
	return s.client.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: hash})
}

// PayInvoice sends the payment and blocks until it reaches a terminal state.
func (s *service) PayInvoice(
	ctx context.Context, paymentRequest string, amountSat int64,
) (*lnrpc.Payment, error) {
	if !s.IsConnected() {
		return nil, ErrServiceNotConnected
	}

	ctx = getCtx(ctx, s.macaroon)
	decoded, err := s.client.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: paymentRequest})
	if err != nil {
		return nil, fmt.Errorf("invalid invoice: %w", err)
	}

	request := &routerrpc.SendPaymentRequest{
		PaymentRequest:    paymentRequest,
		TimeoutSeconds:    60,
		FeeLimitSat:       feeLimit(decoded.NumSatoshis),
		NoInflightUpdates: true,
	}
	if decoded.NumSatoshis == 0 {
		request.AmtMsat = amountSat * 1000
		request.FeeLimitSat = feeLimit(amountSat)
	}

	stream, err := s.router.SendPaymentV2(ctx, request)
	if err != nil {
		return nil, err
	}

	for {
		payment, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED, lnrpc.Payment_FAILED:
			return payment, nil
		}
	}
}

// TrackPayment returns the terminal state of an outgoing payment, waiting
// for it if the payment is still in flight.
func (s *service) TrackPayment(ctx context.Context, paymentHash string) (*lnrpc.Payment, error) {
	if !s.IsConnected() {
		return nil, ErrServiceNotConnected
	}

	hash, err := hex.DecodeString(paymentHash)
	if err != nil {
		return nil, fmt.Errorf("invalid payment hash: %w", err)
	}

	ctx = getCtx(ctx, s.macaroon)
	stream, err := s.router.TrackPaymentV2(ctx, &routerrpc.TrackPaymentRequest{
		PaymentHash:       hash,
		NoInflightUpdates: true,
	})
	if err != nil {
		return nil, err
	}

	for {
		payment, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED, lnrpc.Payment_FAILED:
			return payment, nil
		}
	}
}

func (s *service) ConnectPeer(ctx context.Context, uri string) error {
	if !s.IsConnected() {
		return ErrServiceNotConnected
	}

	parts := strings.SplitN(uri, "@", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid peer uri %q, want pubkey@host", uri)
	}

	ctx = getCtx(ctx, s.macaroon)
	_, err := s.client.ConnectPeer(ctx, &lnrpc.ConnectPeerRequest{
		Addr: &lnrpc.LightningAddress{Pubkey: parts[0], Host: parts[1]},
	})
	if err != nil && strings.Contains(err.Error(), "already connected") {
		return nil
	}
	return err
}

func (s *service) SendCustomMessage(
	ctx context.Context, peerPubkey string, msgType uint32, data []byte,
) error {
	if !s.IsConnected() {
		return ErrServiceNotConnected
	}

	peer, err := hex.DecodeString(peerPubkey)
	if err != nil {
		return fmt.Errorf("invalid peer pubkey: %w", err)
	}

	ctx = getCtx(ctx, s.macaroon)
	_, err = s.client.SendCustomMessage(ctx, &lnrpc.SendCustomMessageRequest{
		Peer: peer,
		Type: msgType,
		Data: data,
	})
	return err
}

func (s *service) SignMessage(ctx context.Context, msg []byte) (string, error) {
	if !s.IsConnected() {
		return "", ErrServiceNotConnected
	}

	ctx = getCtx(ctx, s.macaroon)
	response, err := s.client.SignMessage(ctx, &lnrpc.SignMessageRequest{Msg: msg})
	if err != nil {
		return "", err
	}
	return response.Signature, nil
}

// SubscribeInvoices pumps invoice updates into the event bus until the
// stream ends. Stream failures are published as error events; a graceful
// node shutdown ends the pump silently.
func (s *service) SubscribeInvoices(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrServiceNotConnected
	}

	ctx = getCtx(ctx, s.macaroon)
	stream, err := s.client.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return err
	}

	go func() {
		for {
			invoice, err := stream.Recv()
			if err != nil {
				if !isGracefulShutdown(err) {
					s.bus.Publish(ports.InvoiceTopic, ports.BusEvent{Err: err})
				}
				return
			}
			s.bus.Publish(ports.InvoiceTopic, ports.BusEvent{Data: invoice})
		}
	}()

	return nil
}

// SubscribeCustomMessages pumps peer custom messages into the event bus.
func (s *service) SubscribeCustomMessages(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrServiceNotConnected
	}

	ctx = getCtx(ctx, s.macaroon)
	stream, err := s.client.SubscribeCustomMessages(ctx, &lnrpc.SubscribeCustomMessagesRequest{})
	if err != nil {
		return err
	}

	go func() {
		for {
			message, err := stream.Recv()
			if err != nil {
				if !isGracefulShutdown(err) {
					s.bus.Publish(ports.CustomMessageTopic, ports.BusEvent{Err: err})
				}
				return
			}
			s.bus.Publish(ports.CustomMessageTopic, ports.BusEvent{Data: message})
		}
	}()

	return nil
}

// RunChannelAcceptor answers every inbound channel proposal with the given
// decision function. It blocks until the stream ends. An unanswered proposal
// would leave the peer hanging, so any failure to decide or respond tears
// down the whole stream.
func (s *service) RunChannelAcceptor(
	ctx context.Context, decide func(ports.ChannelProposal) ports.ChannelDecision,
) error {
	if !s.IsConnected() {
		return ErrServiceNotConnected
	}

	ctx = getCtx(ctx, s.macaroon)
	stream, err := s.client.ChannelAcceptor(ctx)
	if err != nil {
		return err
	}

	for {
		request, err := stream.Recv()
		if err != nil {
			if err == io.EOF || isGracefulShutdown(err) {
				return nil
			}
			return fmt.Errorf("channel acceptor stream: %w", err)
		}

		decision, err := safeDecide(decide, ports.ChannelProposal{
			NodePubkey:     hex.EncodeToString(request.NodePubkey),
			PendingChanID:  hex.EncodeToString(request.PendingChanId),
			CommitmentType: request.CommitmentType,
			WantsZeroConf:  request.WantsZeroConf,
			FundingAmt:     request.FundingAmt,
			PushAmt:        request.PushAmt,
		})
		if err != nil {
			// nolint:all
			stream.CloseSend()
			return fmt.Errorf("channel policy evaluation failed: %w", err)
		}

		response := &lnrpc.ChannelAcceptResponse{
			Accept:        decision.Accept,
			PendingChanId: request.PendingChanId,
			ZeroConf:      decision.ZeroConf,
			Error:         decision.Error,
		}
		if err := stream.Send(response); err != nil {
			return fmt.Errorf("failed to answer channel proposal: %w", err)
		}
	}
}

func safeDecide(
	decide func(ports.ChannelProposal) ports.ChannelDecision, proposal ports.ChannelProposal,
) (decision ports.ChannelDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return decide(proposal), nil
}

func isGracefulShutdown(err error) bool {
	if err == nil {
		return false
	}
	if err == io.EOF {
		return true
	}
	msg := err.Error()
	for _, sentinel := range shutdownMessages {
		if strings.Contains(msg, sentinel) {
			return true
		}
	}
	return false
}

// feeLimit caps routing fees at 2% of the amount, with a floor of 10 sats so
// small payments can still find a route.
func feeLimit(amountSat int64) int64 {
	limit := amountSat * 2 / 100
	if limit < 10 {
		return 10
	}
	return limit
}
