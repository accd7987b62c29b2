package ports

import "github.com/blixtwallet/blixtd/internal/core/domain"

type RepoManager interface {
	Settings() domain.SettingsRepository
	Transactions() domain.TransactionRepository
	Close()
}
