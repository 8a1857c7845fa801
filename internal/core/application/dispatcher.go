package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AmbossTech/banco-swaps/internal/core/domain"
	"github.com/AmbossTech/banco-swaps/internal/core/ports"
	"github.com/AmbossTech/banco-swaps/pkg/boltz"

	log "github.com/sirupsen/logrus"
)

// lockLease is the initial lease on a status handler's lock. The handle
// renews it while signing runs, so it only bounds crash recovery time.
const lockLease = 30 * time.Second

// HandleSwapUpdate is the websocket update callback. Every (swap, status)
// pair is guarded by the distributed lock: a busy lock means another instance
// is handling the event, never an error.
func (s *SwapService) HandleSwapUpdate(update boltz.SwapUpdate) {
	ctx := context.Background()

	key := update.ID + update.Status
	handle, err := s.lock.TryAcquire(ctx, key, lockLease)
	if err != nil {
		if errors.Is(err, ports.ErrLockBusy) {
			log.Debugf("swap %s status %s handled by another instance", update.ID, update.Status)
			return
		}
		log.WithError(err).Warnf("failed to acquire lock for swap %s", update.ID)
		return
	}
	defer handle.Release()

	if err := s.dispatch(ctx, update); err != nil {
		// The swap stays pending; a future matching event retries.
		log.WithError(err).Warnf(
			"failed to handle status %s for swap %s", update.Status, update.ID,
		)
	}
}

func (s *SwapService) dispatch(ctx context.Context, update boltz.SwapUpdate) error {
	swap, err := s.repo.GetByProviderID(ctx, update.ID)
	if err != nil {
		if errors.Is(err, domain.ErrSwapNotFound) {
			return fmt.Errorf("%w: provider id %s", ErrUnknownSwap, update.ID)
		}
		// Not "not ours": the store itself failed, surface that as-is.
		return fmt.Errorf("load swap for provider id %s: %w", update.ID, err)
	}
	if swap.Completed {
		log.Debugf("swap %s already completed, ignoring status %s", swap.ID, update.Status)
		return nil
	}

	switch boltz.ParseEvent(update.Status) {
	case boltz.InvoiceSet:
		log.Infof("swap %s: invoice set", swap.ID)
		return nil

	case boltz.TransactionClaimPending:
		return s.claimSubmarine(ctx, swap)

	case boltz.SwapExpired, boltz.InvoiceExpired, boltz.InvoiceFailedToPay,
		boltz.TransactionFailed, boltz.TransactionRefunded, boltz.TransactionLockupFailed:
		log.Warnf("swap %s ended with status %s", swap.ID, update.Status)
		return s.repo.MarkCompleted(ctx, swap.ID)

	case boltz.InvoiceSettled, boltz.TransactionClaimed:
		log.Infof("swap %s settled", swap.ID)
		return s.repo.MarkCompleted(ctx, swap.ID)

	case boltz.TransactionMempool:
		return s.handleLockupSeen(ctx, swap)

	case boltz.TransactionServerMempool, boltz.TransactionConfirmed:
		if swap.Type == domain.SwapTypeReverse {
			return s.claimReverse(ctx, swap)
		}
		return nil

	case boltz.TransactionServerConfirmed:
		switch swap.Type {
		case domain.SwapTypeReverse:
			return s.claimReverse(ctx, swap)
		case domain.SwapTypeChain:
			return s.claimChain(ctx, swap)
		}
		return nil

	default:
		log.Debugf("swap %s: ignoring status %q", swap.ID, update.Status)
		return nil
	}
}

// handleLockupSeen fires when a lockup transaction paying us enters the
// mempool: submarine swaps pay the provider, so only the other kinds notify
// the user, and reverse swaps may start claiming right away.
func (s *SwapService) handleLockupSeen(ctx context.Context, swap *domain.Swap) error {
	if swap.Type == domain.SwapTypeSubmarine {
		return nil
	}

	if amount := incomingAmount(swap); amount > 0 {
		if err := s.notifier.Notify(ctx, swap.WalletAccountID, amount); err != nil {
			log.WithError(err).Warnf("failed to notify account %s", swap.WalletAccountID)
		}
	}

	if swap.Type == domain.SwapTypeReverse {
		return s.claimReverse(ctx, swap)
	}
	return nil
}

// claimSubmarine routes to the Bitcoin engine regardless of the lockup
// chain: submarine claims sign a provider-supplied hash and settlement
// happens on Bitcoin.
func (s *SwapService) claimSubmarine(ctx context.Context, swap *domain.Swap) error {
	if swap.Type != domain.SwapTypeSubmarine {
		return fmt.Errorf("%w: %s is not a submarine swap", ErrUnknownSwap, swap.ID)
	}
	engine, err := s.engineFor(boltz.CurrencyBtc)
	if err != nil {
		return err
	}
	return engine.ClaimSubmarine(ctx, swap)
}

func (s *SwapService) claimReverse(ctx context.Context, swap *domain.Swap) error {
	req, ok := swap.Request.(domain.ReverseRequest)
	if !ok {
		return fmt.Errorf("%w: %s has no reverse request", ErrUnknownSwap, swap.ID)
	}
	if req.Covenant {
		log.Debugf("swap %s is covenant-claimed, skipping local claim", swap.ID)
		return nil
	}
	engine, err := s.engineFor(req.To)
	if err != nil {
		return err
	}
	return engine.ClaimReverse(ctx, swap)
}

func (s *SwapService) claimChain(ctx context.Context, swap *domain.Swap) error {
	req, ok := swap.Request.(domain.ChainRequest)
	if !ok {
		return fmt.Errorf("%w: %s has no chain request", ErrUnknownSwap, swap.ID)
	}
	engine, err := s.engineFor(req.To)
	if err != nil {
		return err
	}
	return engine.ClaimChain(ctx, swap)
}

func (s *SwapService) engineFor(currency boltz.Currency) (ClaimEngine, error) {
	engine, ok := s.engines[currency]
	if !ok {
		return nil, fmt.Errorf("no signing engine for %s", currency)
	}
	return engine, nil
}

func incomingAmount(swap *domain.Swap) uint64 {
	switch resp := swap.Response.(type) {
	case domain.ReverseResponse:
		return resp.OnchainAmount
	case domain.ChainResponse:
		if resp.ClaimDetails != nil {
			return resp.ClaimDetails.Amount
		}
	}
	return 0
}
