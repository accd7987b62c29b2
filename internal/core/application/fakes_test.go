package application

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/blixtwallet/blixtd/internal/infrastructure/db"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/require"
)

func newTestRepoManager(t *testing.T) ports.RepoManager {
	t.Helper()
	repoManager, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{"", nil},
	})
	require.NoError(t, err)
	t.Cleanup(repoManager.Close)
	return repoManager
}

// fakeLnService satisfies ports.LnService with overridable behavior per test.
type fakeLnService struct {
	mu sync.Mutex

	addInvoiceFn  func(valueSat int64, memo string, expirySec int64) (string, string, error)
	addPreimageFn func(valueSat int64, memo string, preimage []byte) (string, string, error)
	decodeFn      func(paymentRequest string) (*lnrpc.PayReq, error)
	lookupFn      func(paymentHash string) (*lnrpc.Invoice, error)
	payFn         func(paymentRequest string, amountSat int64) (*lnrpc.Payment, error)
	trackFn       func(paymentHash string) (*lnrpc.Payment, error)
	connectPeerFn func(uri string) error
	signFn        func(msg []byte) (string, error)

	sentMessages []sentMessage
	peersDialed  []string
}

type sentMessage struct {
	peer    string
	msgType uint32
	data    []byte
}

func (f *fakeLnService) Connect(context.Context, string) error { return nil }
func (f *fakeLnService) Disconnect()                           {}
func (f *fakeLnService) IsConnected() bool                     { return true }

func (f *fakeLnService) GetInfo(context.Context) (string, string, error) {
	return "0.18.3-beta", "0299de4b", nil
}

func (f *fakeLnService) AddInvoice(
	_ context.Context, valueSat int64, memo string, expirySec int64,
) (string, string, error) {
	if f.addInvoiceFn != nil {
		return f.addInvoiceFn(valueSat, memo, expirySec)
	}
	return "", "", fmt.Errorf("AddInvoice not stubbed")
}

func (f *fakeLnService) AddInvoiceWithPreimage(
	_ context.Context, valueSat int64, memo string, preimage []byte,
) (string, string, error) {
	if f.addPreimageFn != nil {
		return f.addPreimageFn(valueSat, memo, preimage)
	}
	return "", "", fmt.Errorf("AddInvoiceWithPreimage not stubbed")
}

func (f *fakeLnService) DecodePayReq(_ context.Context, paymentRequest string) (*lnrpc.PayReq, error) {
	if f.decodeFn != nil {
		return f.decodeFn(paymentRequest)
	}
	return nil, fmt.Errorf("DecodePayReq not stubbed")
}

func (f *fakeLnService) LookupInvoice(_ context.Context, paymentHash string) (*lnrpc.Invoice, error) {
	if f.lookupFn != nil {
		return f.lookupFn(paymentHash)
	}
	return nil, fmt.Errorf("LookupInvoice not stubbed")
}

func (f *fakeLnService) PayInvoice(
	_ context.Context, paymentRequest string, amountSat int64,
) (*lnrpc.Payment, error) {
	if f.payFn != nil {
		return f.payFn(paymentRequest, amountSat)
	}
	return nil, fmt.Errorf("PayInvoice not stubbed")
}

func (f *fakeLnService) TrackPayment(_ context.Context, paymentHash string) (*lnrpc.Payment, error) {
	if f.trackFn != nil {
		return f.trackFn(paymentHash)
	}
	return nil, fmt.Errorf("TrackPayment not stubbed")
}

func (f *fakeLnService) ConnectPeer(_ context.Context, uri string) error {
	f.mu.Lock()
	f.peersDialed = append(f.peersDialed, uri)
	f.mu.Unlock()
	if f.connectPeerFn != nil {
		return f.connectPeerFn(uri)
	}
	return nil
}

func (f *fakeLnService) SendCustomMessage(
	_ context.Context, peerPubkey string, msgType uint32, data []byte,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentMessages = append(f.sentMessages, sentMessage{peerPubkey, msgType, data})
	return nil
}

func (f *fakeLnService) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sentMessages...)
}

func (f *fakeLnService) SignMessage(_ context.Context, msg []byte) (string, error) {
	if f.signFn != nil {
		return f.signFn(msg)
	}
	return "d34db33fsig", nil
}

func (f *fakeLnService) SubscribeInvoices(context.Context) error       { return nil }
func (f *fakeLnService) SubscribeCustomMessages(context.Context) error { return nil }

func (f *fakeLnService) RunChannelAcceptor(
	ctx context.Context, _ func(ports.ChannelProposal) ports.ChannelDecision,
) error {
	<-ctx.Done()
	return nil
}

// fakeNotifier records deliveries.
type fakeNotifier struct {
	mu            sync.Mutex
	notifications []string
}

func (f *fakeNotifier) Notify(title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, fmt.Sprintf("%s: %s", title, message))
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifications)
}

func busEventWithErr() ports.BusEvent {
	return ports.BusEvent{Err: fmt.Errorf("stream broken")}
}

func busEventWithData(data any) ports.BusEvent {
	return ports.BusEvent{Data: data}
}
