package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/blixtwallet/blixtd/internal/core/domain"
	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/blixtwallet/blixtd/pkg/correlate"
	"github.com/blixtwallet/blixtd/pkg/lnurl"
	"github.com/blixtwallet/blixtd/pkg/lsp"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoLspConfigured      = fmt.Errorf("no lsp peer configured in settings")
	ErrNoOnDemandConfigured = fmt.Errorf("no on-demand channel server configured in settings")
	ErrWrongLnurlTag        = fmt.Errorf("lnurl tag does not match the requested operation")
)

// Messages signed with the node identity key to authenticate against the
// on-demand channel service.
const (
	onDemandRegisterMsg    = "REGISTER"
	onDemandCheckStatusMsg = "CHECKSTATUS"
	onDemandClaimMsg       = "CLAIM"
)

// Service is the wallet core. It owns the connection to the payment engine,
// the settlement reconciler, the channel policy, and the LNURL / LSP client
// flows built on top of them.
type Service struct {
	repoManager ports.RepoManager
	lnSvc       ports.LnService
	bus         ports.EventBus
	scheduler   ports.SchedulerService
	notifier    ports.Notifier

	pending     *PendingEntries
	reconciler  *Reconciler
	lnurlClient *lnurl.Client
	lspClient   *lsp.Client
	onDemand    *lsp.OnDemandClient

	pubkey        string
	unsubscribers []func()
}

func NewService(
	repoManager ports.RepoManager,
	lnSvc ports.LnService,
	bus ports.EventBus,
	scheduler ports.SchedulerService,
	notifier ports.Notifier,
) *Service {
	pending := NewPendingEntries()
	return &Service{
		repoManager: repoManager,
		lnSvc:       lnSvc,
		bus:         bus,
		scheduler:   scheduler,
		notifier:    notifier,
		pending:     pending,
		reconciler:  NewReconciler(repoManager, lnSvc, notifier, pending),
		lnurlClient: lnurl.NewClient(),
	}
}

// Start connects to the payment engine and brings up the event pipeline:
// bus subscriptions, the engine streams feeding them, the channel acceptor,
// the reconciliation schedule, and one immediate cold-start pass.
func (s *Service) Start(
	ctx context.Context, lndconnectUrl string, reconcileInterval time.Duration,
) error {
	if err := s.lnSvc.Connect(ctx, lndconnectUrl); err != nil {
		return fmt.Errorf("failed to connect to payment engine: %w", err)
	}

	_, pubkey, err := s.lnSvc.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to get node info: %w", err)
	}
	s.pubkey = pubkey

	settings, err := s.repoManager.Settings().GetSettings(ctx)
	if err != nil {
		if err := s.repoManager.Settings().AddDefaultSettings(ctx); err != nil {
			return fmt.Errorf("failed to initialize settings: %w", err)
		}
		settings, err = s.repoManager.Settings().GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
	}

	if settings.LspPubkey != "" {
		s.lspClient = lsp.NewClient(
			settings.LspPubkey, s.lnSvc.SendCustomMessage, correlate.DefaultTimeout,
		)
	}
	if settings.OnDemandChannelServer != "" {
		s.onDemand = lsp.NewOnDemandClient(settings.OnDemandChannelServer)
	}

	s.unsubscribers = append(s.unsubscribers,
		s.bus.Subscribe(ports.InvoiceTopic, func(event ports.BusEvent) {
			s.reconciler.HandleInvoiceEvent(context.Background(), event)
		}),
		s.bus.Subscribe(ports.CustomMessageTopic, s.handleCustomMessage),
	)

	if err := s.lnSvc.SubscribeInvoices(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to invoices: %w", err)
	}
	if err := s.lnSvc.SubscribeCustomMessages(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to custom messages: %w", err)
	}

	go func() {
		if err := s.lnSvc.RunChannelAcceptor(ctx, s.decideChannel); err != nil {
			logrus.WithError(err).Error("channel acceptor stopped")
		}
	}()

	s.scheduler.Start()
	if err := s.scheduler.ScheduleReconciliation(reconcileInterval, func() {
		if err := s.reconciler.ReconcileOpen(context.Background()); err != nil {
			logrus.WithError(err).Error("scheduled reconciliation failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	go func() {
		if err := s.reconciler.ReconcileOpen(ctx); err != nil {
			logrus.WithError(err).Error("cold-start reconciliation failed")
		}
	}()

	logrus.Info("wallet service started")
	return nil
}

func (s *Service) Stop() {
	for _, unsubscribe := range s.unsubscribers {
		unsubscribe()
	}
	s.unsubscribers = nil
	s.scheduler.Stop()
	if s.lnSvc.IsConnected() {
		s.lnSvc.Disconnect()
	}
	logrus.Info("wallet service stopped")
}

// NodePubkey returns the identity pubkey of the connected node.
func (s *Service) NodePubkey() string {
	return s.pubkey
}

// decideChannel answers one channel proposal against the current settings.
func (s *Service) decideChannel(proposal ports.ChannelProposal) ports.ChannelDecision {
	settings, err := s.repoManager.Settings().GetSettings(context.Background())
	if err != nil {
		logrus.WithError(err).Error("failed to load settings for channel decision")
		settings = &domain.Settings{}
	}
	return EvaluateChannelProposal(proposal, *settings)
}

// handleCustomMessage routes peer messages: LSP responses feed the
// correlator, Lightning Box forwards get answered, everything else is noise.
func (s *Service) handleCustomMessage(event ports.BusEvent) {
	if event.Err != nil {
		logrus.WithError(event.Err).Warn("custom message stream delivered an error")
		return
	}

	msg, ok := event.Data.(*lnrpc.CustomMessage)
	if !ok {
		logrus.Warnf("unexpected custom message payload %T", event.Data)
		return
	}

	peer := hex.EncodeToString(msg.Peer)
	if s.lspClient != nil && s.lspClient.HandleMessage(peer, msg.Type, msg.Data) {
		return
	}
	if msg.Type == BoxForwardMessageType {
		s.handleBoxForward(context.Background(), peer, msg.Data)
	}
}

// AddInvoice creates an invoice and, when an entry is given, arms the pending
// table so the reconciler can decorate the eventual settlement.
func (s *Service) AddInvoice(
	ctx context.Context, valueSat int64, description string, expirySec int64,
	entry *PendingEntry,
) (paymentRequest, paymentHash string, err error) {
	paymentRequest, paymentHash, err = s.lnSvc.AddInvoice(ctx, valueSat, description, expirySec)
	if err != nil {
		return "", "", fmt.Errorf("failed to create invoice: %w", err)
	}
	if entry != nil {
		s.pending.Put(paymentHash, *entry)
	}
	return paymentRequest, paymentHash, nil
}

// PayInvoice records the send as OPEN, pushes it through the engine and
// settles or cancels the record with the outcome. Outgoing amounts are
// stored negative.
func (s *Service) PayInvoice(
	ctx context.Context, paymentRequest string, amountSat int64, entry *PendingEntry,
) (*domain.Transaction, error) {
	decoded, err := s.lnSvc.DecodePayReq(ctx, paymentRequest)
	if err != nil {
		return nil, fmt.Errorf("invalid payment request: %w", err)
	}

	sat := decoded.NumSatoshis
	if sat == 0 {
		sat = amountSat
	}
	if sat <= 0 {
		return nil, fmt.Errorf("amount required for zero-amount invoice")
	}

	e := PendingEntry{Type: domain.TxTypeNormal}
	if entry != nil {
		e = *entry
		if e.Type == "" {
			e.Type = domain.TxTypeNormal
		}
	}

	tx := domain.Transaction{
		PaymentHash:    decoded.PaymentHash,
		PaymentRequest: paymentRequest,
		Status:         domain.TxStatusOpen,
		Type:           e.Type,
		ValueMsat:      -sat * 1000,
		AmountPaidMsat: -sat * 1000,
		Description:    decoded.Description,
		RemotePubkey:   decoded.Destination,
		Payer:          e.Payer,
		Website:        e.Website,
		CreationDate:   decoded.Timestamp,
		Expiry:         decoded.Expiry,
	}
	if settings, err := s.repoManager.Settings().GetSettings(ctx); err == nil {
		tx.FiatCurrency = settings.FiatCurrency
		tx.ValueFiat = fiatValue(tx.ValueMsat, settings.FiatRate)
	}
	if err := s.reconciler.SyncTransaction(ctx, tx); err != nil {
		return nil, err
	}

	payment, err := s.lnSvc.PayInvoice(ctx, paymentRequest, sat)
	if err != nil {
		tx.Status = domain.TxStatusCanceled
		if syncErr := s.reconciler.SyncTransaction(ctx, tx); syncErr != nil {
			logrus.WithError(syncErr).Error("failed to record canceled payment")
		}
		return nil, fmt.Errorf("payment failed: %w", err)
	}
	if payment.Status != lnrpc.Payment_SUCCEEDED {
		tx.Status = domain.TxStatusCanceled
		if syncErr := s.reconciler.SyncTransaction(ctx, tx); syncErr != nil {
			logrus.WithError(syncErr).Error("failed to record failed payment")
		}
		return nil, fmt.Errorf("payment failed: %s", payment.FailureReason)
	}

	tx.Status = domain.TxStatusSettled
	tx.Preimage = payment.PaymentPreimage
	tx.FeeMsat = payment.FeeMsat
	tx.Hops = paymentHops(payment)
	if err := s.reconciler.SyncTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransaction looks up one transaction by payment hash.
func (s *Service) GetTransaction(ctx context.Context, paymentHash string) (*domain.Transaction, error) {
	return s.repoManager.Transactions().GetByPaymentHash(ctx, paymentHash)
}

// GetTransactions returns the full transaction history.
func (s *Service) GetTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.repoManager.Transactions().GetAll(ctx)
}

func (s *Service) GetSettings(ctx context.Context) (*domain.Settings, error) {
	return s.repoManager.Settings().GetSettings(ctx)
}

// UpdateSettings persists the new settings and reconfigures the LSP clients
// that depend on them.
func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	if err := s.repoManager.Settings().UpdateSettings(ctx, settings); err != nil {
		return err
	}

	if settings.LspPubkey != "" {
		s.lspClient = lsp.NewClient(
			settings.LspPubkey, s.lnSvc.SendCustomMessage, correlate.DefaultTimeout,
		)
	} else {
		s.lspClient = nil
	}
	if settings.OnDemandChannelServer != "" {
		s.onDemand = lsp.NewOnDemandClient(settings.OnDemandChannelServer)
	} else {
		s.onDemand = nil
	}
	return nil
}

// ResolveLnurl decodes and resolves any LNURL input: bech32, lud17 scheme or
// lightning address.
func (s *Service) ResolveLnurl(ctx context.Context, input string) (*lnurl.Resolution, error) {
	return s.lnurlClient.Resolve(ctx, input)
}

// LnurlChannel executes a resolved channelRequest: connect to the peer and
// ask the service to open the channel towards us.
func (s *Service) LnurlChannel(ctx context.Context, resolution *lnurl.Resolution, private bool) error {
	if resolution.Tag != lnurl.TagChannelRequest {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongLnurlTag, resolution.Tag, lnurl.TagChannelRequest)
	}
	return s.lnurlClient.DoChannelRequest(
		ctx, resolution.ChannelRequest, s.pubkey, private, s.lnSvc.ConnectPeer,
	)
}

// LnurlAuth signs the service's challenge with a key derived from the node
// identity, scoped to the service domain.
func (s *Service) LnurlAuth(ctx context.Context, resolution *lnurl.Resolution) error {
	if resolution.Tag != lnurl.TagLogin {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongLnurlTag, resolution.Tag, lnurl.TagLogin)
	}
	return s.lnurlClient.DoAuth(ctx, resolution.Login, s.lnSvc.SignMessage)
}

// LnurlWithdraw creates an invoice within the advertised bounds and hands it
// to the withdraw callback. The funds arrive through the invoice stream.
func (s *Service) LnurlWithdraw(
	ctx context.Context, resolution *lnurl.Resolution, amountSat int64,
) (paymentHash string, err error) {
	if resolution.Tag != lnurl.TagWithdrawRequest {
		return "", fmt.Errorf("%w: got %s, want %s", ErrWrongLnurlTag, resolution.Tag, lnurl.TagWithdrawRequest)
	}

	params := resolution.Withdraw
	amountMsat := amountSat * 1000
	if amountMsat < params.MinWithdrawable || amountMsat > params.MaxWithdrawable {
		return "", fmt.Errorf(
			"amount %d msat out of bounds [%d, %d]",
			amountMsat, params.MinWithdrawable, params.MaxWithdrawable,
		)
	}

	paymentRequest, paymentHash, err := s.AddInvoice(
		ctx, amountSat, params.DefaultDescription, 0,
		&PendingEntry{Type: domain.TxTypeLNURL, Website: resolution.Domain},
	)
	if err != nil {
		return "", err
	}

	if err := s.lnurlClient.DoWithdraw(ctx, params, paymentRequest); err != nil {
		s.pending.Delete(paymentHash)
		return "", err
	}
	return paymentHash, nil
}

// LnurlPay fetches a verified invoice from the pay callback and pays it.
func (s *Service) LnurlPay(
	ctx context.Context, resolution *lnurl.Resolution, amountMsat int64, comment, payerName string,
) (*domain.Transaction, *lnurl.SuccessAction, error) {
	if resolution.Tag != lnurl.TagPayRequest {
		return nil, nil, fmt.Errorf("%w: got %s, want %s", ErrWrongLnurlTag, resolution.Tag, lnurl.TagPayRequest)
	}

	result, err := s.lnurlClient.DoPay(ctx, resolution.Pay, amountMsat, comment, payerName)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.PayInvoice(ctx, result.PaymentRequest, amountMsat/1000, &PendingEntry{
		Type:    domain.TxTypeLNURL,
		Website: resolution.Domain,
	})
	if err != nil {
		return nil, nil, err
	}
	return tx, result.SuccessAction, nil
}

// LspGetInfo fetches the configured LSP's order constraints over the peer
// connection.
func (s *Service) LspGetInfo(ctx context.Context) (*lsp.GetInfoResponse, error) {
	if s.lspClient == nil {
		return nil, ErrNoLspConfigured
	}
	return s.lspClient.GetInfo(ctx)
}

// LspCreateOrder places a channel order with the configured LSP. The caller
// pays the returned order invoice to trigger the open.
func (s *Service) LspCreateOrder(
	ctx context.Context, request lsp.CreateOrderRequest,
) (*lsp.CreateOrderResponse, error) {
	if s.lspClient == nil {
		return nil, ErrNoLspConfigured
	}
	return s.lspClient.CreateOrder(ctx, request)
}

// RequestOnDemandChannel registers an inbound-channel purchase with the
// on-demand service and returns the invoice the payer should settle. The
// preimage is generated locally and shared with the service up front, so the
// service can hold settlement until the channel is open.
func (s *Service) RequestOnDemandChannel(
	ctx context.Context, amountSat int64, description string,
) (paymentRequest string, err error) {
	if s.onDemand == nil {
		return "", ErrNoOnDemandConfigured
	}

	status, err := s.onDemand.ServiceStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query on-demand service: %w", err)
	}
	if !status.Status {
		return "", fmt.Errorf("on-demand channel service is unavailable")
	}
	if amountSat < status.MinimumPaymentSat {
		return "", fmt.Errorf(
			"amount %d sat below service minimum %d sat", amountSat, status.MinimumPaymentSat,
		)
	}

	if err := s.lnSvc.ConnectPeer(ctx, status.PeerURI); err != nil {
		return "", fmt.Errorf("failed to connect to on-demand peer: %w", err)
	}

	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return "", fmt.Errorf("failed to generate preimage: %w", err)
	}

	signature, err := s.lnSvc.SignMessage(ctx, []byte(onDemandRegisterMsg))
	if err != nil {
		return "", fmt.Errorf("failed to sign registration: %w", err)
	}

	if _, err := s.onDemand.Register(ctx, lsp.RegisterRequest{
		Pubkey:    s.pubkey,
		Signature: signature,
		Preimage:  hex.EncodeToString(preimage),
		AmountSat: amountSat,
	}); err != nil {
		return "", fmt.Errorf("on-demand registration failed: %w", err)
	}

	paymentRequest, paymentHash, err := s.lnSvc.AddInvoiceWithPreimage(
		ctx, amountSat, description, preimage,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create registered invoice: %w", err)
	}

	s.pending.Put(paymentHash, PendingEntry{
		Type:    domain.TxTypeOnDemandChannel,
		Website: status.PeerURI,
	})
	return paymentRequest, nil
}

// OnDemandCheckStatus asks the on-demand service about pending registrations.
func (s *Service) OnDemandCheckStatus(ctx context.Context) (*lsp.CheckStatusResponse, error) {
	if s.onDemand == nil {
		return nil, ErrNoOnDemandConfigured
	}

	signature, err := s.lnSvc.SignMessage(ctx, []byte(onDemandCheckStatusMsg))
	if err != nil {
		return nil, fmt.Errorf("failed to sign status check: %w", err)
	}
	return s.onDemand.CheckStatus(ctx, lsp.CheckStatusRequest{
		Pubkey:    s.pubkey,
		Signature: signature,
	})
}

// OnDemandClaim asks the service to push any unclaimed funds over a fresh
// payment.
func (s *Service) OnDemandClaim(ctx context.Context) (*lsp.ClaimResponse, error) {
	if s.onDemand == nil {
		return nil, ErrNoOnDemandConfigured
	}

	signature, err := s.lnSvc.SignMessage(ctx, []byte(onDemandClaimMsg))
	if err != nil {
		return nil, fmt.Errorf("failed to sign claim: %w", err)
	}
	return s.onDemand.Claim(ctx, lsp.ClaimRequest{
		Pubkey:    s.pubkey,
		Signature: signature,
	})
}
