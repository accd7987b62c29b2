package db_test

import (
	"context"
	"testing"

	"github.com/blixtwallet/blixtd/internal/core/domain"
	"github.com/blixtwallet/blixtd/internal/core/ports"
	"github.com/blixtwallet/blixtd/internal/infrastructure/db"
	"github.com/stretchr/testify/require"
)

var (
	ctx = context.Background()

	testSettings = domain.Settings{
		ZeroConfPeers:         []string{"02peer1", "03peer2"},
		LspPubkey:             "02lsp",
		OnDemandChannelServer: "https://lsp.example",
		FiatRate:              65000.5,
		FiatCurrency:          "EUR",
		NotificationsEnabled:  true,
	}

	testTransaction = domain.Transaction{
		PaymentHash:    "aa11",
		PaymentRequest: "lnbc1firstinvoice",
		Status:         domain.TxStatusOpen,
		Type:           domain.TxTypeNormal,
		ValueMsat:      100_000,
		Description:    "coffee",
		CreationDate:   1_700_000_000,
		Expiry:         3600,
	}
	secondTransaction = domain.Transaction{
		PaymentHash:    "bb22",
		PaymentRequest: "lnbc1secondinvoice",
		Status:         domain.TxStatusSettled,
		Type:           domain.TxTypeLNURL,
		ValueMsat:      250_000,
		AmountPaidMsat: 250_000,
		Preimage:       "cafebabe",
		CreationDate:   1_700_000_100,
	}
)

func TestRepoManager(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "badger",
			config: db.ServiceConfig{
				DbType:   "badger",
				DbConfig: []any{"", nil},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			defer svc.Close()

			testSettingsRepository(t, svc)
			testTransactionRepository(t, svc)
		})
	}
}

func TestRepoManagerRejectsUnknownType(t *testing.T) {
	_, err := db.NewService(db.ServiceConfig{DbType: "mongodb"})
	require.Error(t, err)
}

func testSettingsRepository(t *testing.T, svc ports.RepoManager) {
	repo := svc.Settings()

	t.Run("settings", func(t *testing.T) {
		settings, err := repo.GetSettings(ctx)
		require.Error(t, err)
		require.Nil(t, settings)

		err = repo.AddDefaultSettings(ctx)
		require.NoError(t, err)

		settings, err = repo.GetSettings(ctx)
		require.NoError(t, err)
		require.NotNil(t, settings)
		require.True(t, settings.NotificationsEnabled)

		err = repo.AddDefaultSettings(ctx)
		require.Error(t, err, "settings must be unique")

		err = repo.UpdateSettings(ctx, testSettings)
		require.NoError(t, err)

		settings, err = repo.GetSettings(ctx)
		require.NoError(t, err)
		require.Equal(t, testSettings, *settings)
		require.True(t, settings.AllowsZeroConfFrom("02peer1"))
		require.False(t, settings.AllowsZeroConfFrom("02stranger"))

		err = repo.CleanSettings(ctx)
		require.NoError(t, err)

		settings, err = repo.GetSettings(ctx)
		require.Error(t, err)
		require.Nil(t, settings)

		err = repo.CleanSettings(ctx)
		require.Error(t, err)

		err = repo.AddSettings(ctx, testSettings)
		require.NoError(t, err)
	})
}

func testTransactionRepository(t *testing.T, svc ports.RepoManager) {
	repo := svc.Transactions()

	t.Run("transactions", func(t *testing.T) {
		txs, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Empty(t, txs)

		err = repo.Add(ctx, testTransaction)
		require.NoError(t, err)

		err = repo.Add(ctx, testTransaction)
		require.Error(t, err, "payment hash is the natural key")

		err = repo.Add(ctx, secondTransaction)
		require.NoError(t, err)

		tx, err := repo.GetByPaymentHash(ctx, testTransaction.PaymentHash)
		require.NoError(t, err)
		require.Equal(t, testTransaction, *tx)

		tx, err = repo.GetByPaymentRequest(ctx, secondTransaction.PaymentRequest)
		require.NoError(t, err)
		require.Equal(t, secondTransaction, *tx)

		_, err = repo.GetByPaymentHash(ctx, "doesnotexist")
		require.Error(t, err)

		_, err = repo.GetByPaymentRequest(ctx, "lnbc1doesnotexist")
		require.Error(t, err)

		open, err := repo.GetOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		require.Equal(t, testTransaction.PaymentHash, open[0].PaymentHash)

		settled := testTransaction
		settled.Status = domain.TxStatusSettled
		settled.AmountPaidMsat = settled.ValueMsat
		settled.Preimage = "deadbeef"
		err = repo.Update(ctx, settled)
		require.NoError(t, err)

		tx, err = repo.GetByPaymentHash(ctx, settled.PaymentHash)
		require.NoError(t, err)
		require.Equal(t, domain.TxStatusSettled, tx.Status)
		require.Equal(t, "deadbeef", tx.Preimage)

		open, err = repo.GetOpen(ctx)
		require.NoError(t, err)
		require.Empty(t, open)

		missing := secondTransaction
		missing.PaymentHash = "cc33"
		err = repo.Update(ctx, missing)
		require.Error(t, err)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
	})
}
