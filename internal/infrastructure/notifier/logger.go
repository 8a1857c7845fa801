package notifier

import (
	"context"

	"github.com/AmbossTech/banco-swaps/internal/core/ports"

	log "github.com/sirupsen/logrus"
)

// logNotifier is the default Notifier: it records incoming settlements in the
// logs. Deployments plug the wallet's real notification pipeline in instead.
type logNotifier struct{}

func NewLogNotifier() ports.Notifier {
	return &logNotifier{}
}

func (n *logNotifier) Notify(ctx context.Context, walletAccountID string, amountSats uint64) error {
	log.Infof("account %s is receiving %d sats", walletAccountID, amountSats)
	return nil
}
