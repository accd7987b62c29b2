package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/blixtwallet/blixtd/internal/core/domain"
	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/sirupsen/logrus"
)

// Custom records we understand on incoming HTLCs: the sender's display name,
// a free-text message, and a marker that keeps the settlement notification
// silent.
const (
	tlvRecordName     uint64 = 128100
	tlvRecordMessage  uint64 = 34349334
	tlvRecordNoNotify uint64 = 128101
)

// Reconciler folds the engine's invoice events and the tracked outgoing
// payments into the canonical transaction store. All writes for one payment
// hash are serialized; replayed or duplicate events converge on the same row.
type Reconciler struct {
	repoManager ports.RepoManager
	lnSvc       ports.LnService
	notifier    ports.Notifier
	pending     *PendingEntries
	locks       *keyedLocks
}

func NewReconciler(
	repoManager ports.RepoManager, lnSvc ports.LnService,
	notifier ports.Notifier, pending *PendingEntries,
) *Reconciler {
	return &Reconciler{
		repoManager: repoManager,
		lnSvc:       lnSvc,
		notifier:    notifier,
		pending:     pending,
		locks:       newKeyedLocks(),
	}
}

// HandleInvoiceEvent is the invoice-stream subscriber. One bad event is
// logged and dropped, it never takes the subscription down.
func (r *Reconciler) HandleInvoiceEvent(ctx context.Context, event ports.BusEvent) {
	if event.Err != nil {
		logrus.WithError(event.Err).Warn("invoice stream delivered an error")
		return
	}

	invoice, ok := event.Data.(*lnrpc.Invoice)
	if !ok {
		logrus.Warnf("unexpected invoice event payload %T", event.Data)
		return
	}

	if err := r.ReconcileInvoice(ctx, invoice); err != nil {
		logrus.WithError(err).Error("failed to reconcile invoice event")
	}
}

// ReconcileInvoice merges one invoice state into the store and fires the
// side effects the transition calls for.
func (r *Reconciler) ReconcileInvoice(ctx context.Context, invoice *lnrpc.Invoice) error {
	paymentHash := hex.EncodeToString(invoice.RHash)
	if paymentHash == "" {
		return fmt.Errorf("invoice event without payment hash")
	}

	unlock := r.locks.lock(paymentHash)
	defer unlock()

	status := invoiceStatus(invoice.State)
	entry, hasEntry := r.pending.Get(paymentHash)

	tx := domain.Transaction{
		PaymentHash:    paymentHash,
		PaymentRequest: invoice.PaymentRequest,
		Status:         status,
		Type:           entry.Type,
		ValueMsat:      invoiceValueMsat(invoice),
		AmountPaidMsat: invoice.AmtPaidMsat,
		Description:    invoice.Memo,
		Payer:          entry.Payer,
		Website:        entry.Website,
		CreationDate:   invoice.CreationDate,
		Expiry:         invoice.Expiry,
	}

	suppressNotify := false
	if status == domain.TxStatusSettled {
		tx.Preimage = hex.EncodeToString(invoice.RPreimage)
		tx.PayerName, tx.Message, suppressNotify = scanCustomRecords(invoice.Htlcs)

		settings := r.settingsSnapshot(ctx)
		tx.FiatCurrency = settings.FiatCurrency
		tx.ValueFiat = fiatValue(invoice.AmtPaidMsat, settings.FiatRate)
		suppressNotify = suppressNotify || !settings.NotificationsEnabled
	}

	previous, err := r.upsert(ctx, tx)
	if err != nil {
		return err
	}

	if status == domain.TxStatusSettled {
		newlySettled := previous == nil || previous.Status != domain.TxStatusSettled
		if newlySettled && !suppressNotify {
			r.notify(tx)
		}
		// only now is the entry safe to discard
		r.pending.Delete(paymentHash)
		return nil
	}

	if status == domain.TxStatusOpen && hasEntry && entry.InvoiceIssued != nil {
		callback := entry.InvoiceIssued
		entry.InvoiceIssued = nil
		r.pending.Put(paymentHash, entry)
		callback(invoice.PaymentRequest)
	}

	return nil
}

// SyncTransaction upserts a locally built transaction (outgoing payments use
// this) through the same merge path as the streaming events.
func (r *Reconciler) SyncTransaction(ctx context.Context, tx domain.Transaction) error {
	unlock := r.locks.lock(tx.PaymentHash)
	defer unlock()

	_, err := r.upsert(ctx, tx)
	return err
}

// ReconcileOpen is the cold-start pass: every locally OPEN record is checked
// once against the engine. Receives that settled while we were offline go
// through the regular merge; unsettled receives past their expiry window
// become EXPIRED locally; in-flight sends are re-tracked.
func (r *Reconciler) ReconcileOpen(ctx context.Context) error {
	open, err := r.repoManager.Transactions().GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open transactions: %w", err)
	}

	for _, tx := range open {
		if tx.ValueMsat < 0 {
			r.trackOutgoing(ctx, tx)
			continue
		}

		invoice, err := r.lnSvc.LookupInvoice(ctx, tx.PaymentHash)
		if err != nil {
			logrus.WithError(err).Warnf("failed to look up open invoice %s", tx.PaymentHash)
			continue
		}

		switch {
		case invoice.State == lnrpc.Invoice_SETTLED:
			if err := r.ReconcileInvoice(ctx, invoice); err != nil {
				logrus.WithError(err).Errorf("failed to reconcile settled invoice %s", tx.PaymentHash)
			}
		case invoice.State == lnrpc.Invoice_CANCELED:
			tx.Status = domain.TxStatusCanceled
			if err := r.SyncTransaction(ctx, tx); err != nil {
				logrus.WithError(err).Errorf("failed to cancel invoice %s", tx.PaymentHash)
			}
		case time.Now().Unix() > invoice.CreationDate+invoice.Expiry:
			tx.Status = domain.TxStatusExpired
			if err := r.SyncTransaction(ctx, tx); err != nil {
				logrus.WithError(err).Errorf("failed to expire invoice %s", tx.PaymentHash)
			}
		}
	}
	return nil
}

// trackOutgoing resolves the terminal state of an in-flight send.
func (r *Reconciler) trackOutgoing(ctx context.Context, tx domain.Transaction) {
	payment, err := r.lnSvc.TrackPayment(ctx, tx.PaymentHash)
	if err != nil {
		logrus.WithError(err).Warnf("failed to track payment %s", tx.PaymentHash)
		return
	}

	switch payment.Status {
	case lnrpc.Payment_SUCCEEDED:
		tx.Status = domain.TxStatusSettled
		tx.Preimage = payment.PaymentPreimage
		tx.FeeMsat = payment.FeeMsat
		tx.Hops = paymentHops(payment)
	case lnrpc.Payment_FAILED:
		tx.Status = domain.TxStatusCanceled
	case lnrpc.Payment_UNKNOWN:
		tx.Status = domain.TxStatusUnknown
	default:
		return
	}

	if err := r.SyncTransaction(ctx, tx); err != nil {
		logrus.WithError(err).Errorf("failed to sync tracked payment %s", tx.PaymentHash)
	}
}

// upsert looks up the record by its natural keys (payment request first,
// then payment hash), inserts when unknown and merges forward otherwise.
// Returns the previous row, nil on first observation.
func (r *Reconciler) upsert(
	ctx context.Context, tx domain.Transaction,
) (*domain.Transaction, error) {
	repo := r.repoManager.Transactions()

	var existing *domain.Transaction
	if tx.PaymentRequest != "" {
		existing, _ = repo.GetByPaymentRequest(ctx, tx.PaymentRequest)
	}
	if existing == nil && tx.PaymentHash != "" {
		existing, _ = repo.GetByPaymentHash(ctx, tx.PaymentHash)
	}

	if existing == nil {
		if err := repo.Add(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to insert transaction %s: %w", tx.PaymentHash, err)
		}
		return nil, nil
	}

	if !existing.Status.CanTransitionTo(tx.Status) {
		logrus.Debugf(
			"ignoring %s -> %s for settled transaction %s",
			existing.Status, tx.Status, existing.PaymentHash,
		)
		return existing, nil
	}

	merged := mergeTransactions(*existing, tx)
	if err := repo.Update(ctx, merged); err != nil {
		return existing, fmt.Errorf("failed to update transaction %s: %w", merged.PaymentHash, err)
	}
	return existing, nil
}

func (r *Reconciler) settingsSnapshot(ctx context.Context) domain.Settings {
	settings, err := r.repoManager.Settings().GetSettings(ctx)
	if err != nil {
		return domain.Settings{NotificationsEnabled: true}
	}
	return *settings
}

func (r *Reconciler) notify(tx domain.Transaction) {
	message := fmt.Sprintf("Received %d sat", tx.AmountPaidMsat/1000)
	if tx.PayerName != "" {
		message = fmt.Sprintf("%s from %s", message, tx.PayerName)
	}
	if err := r.notifier.Notify("Payment received", message); err != nil {
		logrus.WithError(err).Warn("failed to deliver notification")
	}
}

// mergeTransactions overlays the update on the stored row, keeping stored
// provenance and amounts where the update carries none.
func mergeTransactions(existing, update domain.Transaction) domain.Transaction {
	merged := update
	merged.PaymentHash = existing.PaymentHash
	if merged.PaymentRequest == "" {
		merged.PaymentRequest = existing.PaymentRequest
	}
	if merged.Type == domain.TxTypeNormal && existing.Type != "" {
		merged.Type = existing.Type
	}
	if merged.Payer == "" {
		merged.Payer = existing.Payer
	}
	if merged.Website == "" {
		merged.Website = existing.Website
	}
	if merged.PayerName == "" {
		merged.PayerName = existing.PayerName
	}
	if merged.Message == "" {
		merged.Message = existing.Message
	}
	if merged.Preimage == "" {
		merged.Preimage = existing.Preimage
	}
	if merged.Description == "" {
		merged.Description = existing.Description
	}
	if merged.ValueMsat == 0 {
		merged.ValueMsat = existing.ValueMsat
	}
	if merged.AmountPaidMsat == 0 {
		merged.AmountPaidMsat = existing.AmountPaidMsat
	}
	if merged.FeeMsat == 0 {
		merged.FeeMsat = existing.FeeMsat
	}
	if merged.ValueFiat == 0 {
		merged.ValueFiat = existing.ValueFiat
		merged.FiatCurrency = existing.FiatCurrency
	}
	if merged.CreationDate == 0 {
		merged.CreationDate = existing.CreationDate
	}
	if merged.Expiry == 0 {
		merged.Expiry = existing.Expiry
	}
	if merged.RemotePubkey == "" {
		merged.RemotePubkey = existing.RemotePubkey
	}
	if len(merged.Hops) == 0 {
		merged.Hops = existing.Hops
	}
	return merged
}

func scanCustomRecords(htlcs []*lnrpc.InvoiceHTLC) (name, message string, suppress bool) {
	for _, htlc := range htlcs {
		for recordType, value := range htlc.CustomRecords {
			switch recordType {
			case tlvRecordName:
				name = string(value)
			case tlvRecordMessage:
				message = string(value)
			case tlvRecordNoNotify:
				suppress = true
			}
		}
	}
	return name, message, suppress
}

func invoiceStatus(state lnrpc.Invoice_InvoiceState) domain.TxStatus {
	switch state {
	case lnrpc.Invoice_OPEN:
		return domain.TxStatusOpen
	case lnrpc.Invoice_ACCEPTED:
		return domain.TxStatusAccepted
	case lnrpc.Invoice_SETTLED:
		return domain.TxStatusSettled
	case lnrpc.Invoice_CANCELED:
		return domain.TxStatusCanceled
	default:
		return domain.TxStatusUnknown
	}
}

func invoiceValueMsat(invoice *lnrpc.Invoice) int64 {
	if invoice.ValueMsat > 0 {
		return invoice.ValueMsat
	}
	return invoice.Value * 1000
}

func paymentHops(payment *lnrpc.Payment) []domain.Hop {
	if len(payment.Htlcs) == 0 || payment.Htlcs[0].Route == nil {
		return nil
	}
	route := payment.Htlcs[0].Route
	hops := make([]domain.Hop, 0, len(route.Hops))
	for _, hop := range route.Hops {
		hops = append(hops, domain.Hop{
			ChanID:           hop.ChanId,
			AmtToForwardMsat: hop.AmtToForwardMsat,
			FeeMsat:          hop.FeeMsat,
			Expiry:           hop.Expiry,
			PubKey:           hop.PubKey,
		})
	}
	return hops
}

// fiatValue converts a millisatoshi amount with a fiat-per-btc rate.
func fiatValue(amountMsat int64, rate float64) float64 {
	if rate == 0 {
		return 0
	}
	return float64(amountMsat) / 1000 / 1e8 * rate
}

// keyedLocks serializes reconciliation per payment hash.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*refLock)}
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &refLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
