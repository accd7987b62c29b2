package domain

import "context"

// Settings is the wallet-level configuration snapshot consulted by the
// channel policy and the settlement reconciler. A single row exists per
// store.
type Settings struct {
	ZeroConfPeers         []string
	LspPubkey             string
	OnDemandChannelServer string
	FiatRate              float64
	FiatCurrency          string
	NotificationsEnabled  bool
}

// AllowsZeroConfFrom reports whether the given node id may open zero-conf
// channels to us.
func (s Settings) AllowsZeroConfFrom(nodeID string) bool {
	for _, peer := range s.ZeroConfPeers {
		if peer == nodeID {
			return true
		}
	}
	return false
}

type SettingsRepository interface {
	AddDefaultSettings(ctx context.Context) error
	AddSettings(ctx context.Context, settings Settings) error
	GetSettings(ctx context.Context) (*Settings, error)
	CleanSettings(ctx context.Context) error
	UpdateSettings(ctx context.Context, settings Settings) error
	Close()
}
