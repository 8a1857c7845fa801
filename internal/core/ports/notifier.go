package ports

import "context"

// Notifier is told about incoming settled amounts so the wallet can surface
// them to the user. Implementations live outside this subsystem.
type Notifier interface {
	Notify(ctx context.Context, walletAccountID string, amountSats uint64) error
}
