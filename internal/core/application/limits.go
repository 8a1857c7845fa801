package application

import (
	"fmt"
	"sync"
	"time"

	"github.com/AmbossTech/banco-swaps/internal/core/domain"
	"github.com/AmbossTech/banco-swaps/pkg/boltz"

	log "github.com/sirupsen/logrus"
)

// defaultLimitsTTL bounds how stale cached provider limits may get before a
// swap creation triggers a refetch. The scheduler refreshes on the same
// cadence so the common path never blocks on the provider.
const defaultLimitsTTL = time.Minute

// limitsCache holds the provider's published pair tables. Limits are never
// persisted; they are refetched whenever the TTL lapses.
type limitsCache struct {
	api *boltz.Api
	ttl time.Duration

	mu        sync.RWMutex
	fetchedAt time.Time
	submarine boltz.SubmarinePairs
	reverse   boltz.ReversePairs
	chain     boltz.ChainPairs
}

func newLimitsCache(api *boltz.Api, ttl time.Duration) *limitsCache {
	if ttl <= 0 {
		ttl = defaultLimitsTTL
	}
	return &limitsCache{api: api, ttl: ttl}
}

// CheckLimits validates amount against the provider's published bounds for
// the given swap kind and pair. It is called before every create request; on
// failure the create request is never issued.
func (c *limitsCache) CheckLimits(
	kind domain.SwapType, from, to boltz.Currency, amount uint64,
) error {
	limits, err := c.limits(kind, from, to)
	if err != nil {
		return err
	}
	if amount < limits.Minimal {
		return fmt.Errorf("%w: %d sats, minimal=%d", ErrAmountTooSmall, amount, limits.Minimal)
	}
	if amount > limits.Maximal {
		return fmt.Errorf("%w: %d sats, maximal=%d", ErrAmountTooLarge, amount, limits.Maximal)
	}
	return nil
}

func (c *limitsCache) limits(kind domain.SwapType, from, to boltz.Currency) (boltz.PairLimits, error) {
	if err := c.ensureFresh(); err != nil {
		return boltz.PairLimits{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	switch kind {
	case domain.SwapTypeSubmarine:
		if pair, ok := c.submarine[from][to]; ok {
			return pair.Limits, nil
		}
	case domain.SwapTypeReverse:
		if pair, ok := c.reverse[from][to]; ok {
			return pair.Limits, nil
		}
	case domain.SwapTypeChain:
		if pair, ok := c.chain[from][to]; ok {
			return pair.Limits, nil
		}
	}
	return boltz.PairLimits{}, fmt.Errorf("no %s pair %s -> %s", kind, from, to)
}

func (c *limitsCache) ensureFresh() error {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return nil
	}
	return c.Refresh()
}

// Refresh refetches all three pair tables. Run periodically by the scheduler
// and on demand when the cache went stale.
func (c *limitsCache) Refresh() error {
	submarine, err := c.api.GetSubmarinePairs()
	if err != nil {
		return fmt.Errorf("fetch submarine pairs: %w", err)
	}
	reverse, err := c.api.GetReversePairs()
	if err != nil {
		return fmt.Errorf("fetch reverse pairs: %w", err)
	}
	chain, err := c.api.GetChainPairs()
	if err != nil {
		return fmt.Errorf("fetch chain pairs: %w", err)
	}

	c.mu.Lock()
	c.submarine = submarine
	c.reverse = reverse
	c.chain = chain
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	log.Debug("refreshed provider swap limits")
	return nil
}
