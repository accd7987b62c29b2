package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/blixtwallet/blixtd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const transactionDir = "transaction"

type transactionRepository struct {
	store *badgerhold.Store
}

func NewTransactionRepository(baseDir string, logger badger.Logger) (domain.TransactionRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, transactionDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction store: %s", err)
	}
	return &transactionRepository{store}, nil
}

func (r *transactionRepository) Add(ctx context.Context, tx domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := r.store.Insert(tx.PaymentHash, tx); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("transaction %s already exists", tx.PaymentHash)
		}
		return err
	}
	return nil
}

func (r *transactionRepository) Update(ctx context.Context, tx domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := r.store.Update(tx.PaymentHash, &tx); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("transaction %s not found", tx.PaymentHash)
		}
		return err
	}
	return nil
}

func (r *transactionRepository) GetByPaymentHash(
	ctx context.Context, paymentHash string,
) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := r.store.Get(paymentHash, &tx); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("transaction %s not found", paymentHash)
		}
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByPaymentRequest(
	ctx context.Context, paymentRequest string,
) (*domain.Transaction, error) {
	var txs []domain.Transaction
	err := r.store.Find(&txs, badgerhold.Where("PaymentRequest").Eq(paymentRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to query by payment request: %w", err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("transaction with payment request %s not found", paymentRequest)
	}
	return &txs[0], nil
}

func (r *transactionRepository) GetAll(ctx context.Context) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	if err := r.store.Find(&txs, nil); err != nil {
		return nil, fmt.Errorf("failed to get all transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) GetOpen(ctx context.Context) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	err := r.store.Find(
		&txs, badgerhold.Where("Status").In(domain.TxStatusOpen, domain.TxStatusAccepted),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get open transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) Close() {
	// nolint:all
	r.store.Close()
}
