package domain

import (
	"context"
	"fmt"
)

// TxStatus tracks the lifecycle of a payment record. Transitions only move
// forward: OPEN/ACCEPTED may become SETTLED, CANCELED or EXPIRED, terminal
// statuses never change again.
type TxStatus string

const (
	TxStatusOpen     TxStatus = "OPEN"
	TxStatusAccepted TxStatus = "ACCEPTED"
	TxStatusSettled  TxStatus = "SETTLED"
	TxStatusCanceled TxStatus = "CANCELED"
	TxStatusExpired  TxStatus = "EXPIRED"
	TxStatusUnknown  TxStatus = "UNKNOWN"
)

// TxType records the provenance of a transaction, i.e. which flow created it.
type TxType string

const (
	TxTypeNormal          TxType = "NORMAL"
	TxTypeWebLN           TxType = "WEBLN"
	TxTypeLNURL           TxType = "LNURL"
	TxTypeOnDemandChannel TxType = "LSP_ONDEMAND_CHANNEL"
	TxTypeBoxForward      TxType = "BOX_FORWARD"
)

// Terminal reports whether a status can still change.
func (s TxStatus) Terminal() bool {
	switch s {
	case TxStatusSettled, TxStatusCanceled, TxStatusExpired:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Self transitions are allowed so that repeated events for the
// same state stay idempotent.
func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	if s == next {
		return true
	}
	return !s.Terminal()
}

// Hop is one leg of the route a settled outgoing payment took.
type Hop struct {
	ChanID           uint64
	AmtToForwardMsat int64
	FeeMsat          int64
	Expiry           uint32
	PubKey           string
}

// Transaction is the canonical local record of an invoice or payment. Hex
// fields hold the usual lowercase hex encoding. PaymentHash is the natural
// key for receives; for outgoing payments inserted before the hash is known,
// PaymentRequest serves as a secondary lookup key.
type Transaction struct {
	PaymentHash    string `badgerhold:"key"`
	PaymentRequest string
	Status         TxStatus
	Type           TxType

	ValueMsat      int64
	AmountPaidMsat int64
	FeeMsat        int64
	ValueFiat      float64
	FiatCurrency   string

	Description  string
	RemotePubkey string
	Payer        string
	Website      string
	PayerName    string
	Message      string
	Preimage     string

	CreationDate int64
	Expiry       int64
	Hops         []Hop
}

// Expired reports whether the invoice window has elapsed at the given unix
// time. Records without an expiry never expire locally.
func (t Transaction) Expired(nowUnix int64) bool {
	if t.Expiry <= 0 {
		return false
	}
	return nowUnix > t.CreationDate+t.Expiry
}

func (t Transaction) Validate() error {
	if t.PaymentHash == "" && t.PaymentRequest == "" {
		return fmt.Errorf("missing payment hash and payment request")
	}
	if t.Status == "" {
		return fmt.Errorf("missing status")
	}
	return nil
}

type TransactionRepository interface {
	Add(ctx context.Context, tx Transaction) error
	Update(ctx context.Context, tx Transaction) error
	GetByPaymentHash(ctx context.Context, paymentHash string) (*Transaction, error)
	GetByPaymentRequest(ctx context.Context, paymentRequest string) (*Transaction, error)
	GetAll(ctx context.Context) ([]Transaction, error)
	GetOpen(ctx context.Context) ([]Transaction, error)
	Close()
}
