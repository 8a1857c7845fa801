package inmemorylocker

import (
	"context"
	"sync"
	"time"

	"github.com/AmbossTech/banco-swaps/internal/core/ports"
)

// lockService backs ports.SwapLock with an in-process map of leases. It gives
// single-instance deployments the same semantics a shared lock store gives a
// scaled one: a key can be acquired once, an expired lease becomes free, and
// a held lease renews itself until released.
type lockService struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

func NewService() ports.SwapLock {
	return &lockService{
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *lockService) TryAcquire(
	ctx context.Context, key string, lease time.Duration,
) (ports.LockHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, held := s.leases[key]; held && s.now().Before(expiry) {
		return nil, ports.ErrLockBusy
	}
	s.leases[key] = s.now().Add(lease)

	handle := &lockHandle{svc: s, key: key, done: make(chan struct{})}
	go handle.renew(lease)
	return handle, nil
}

type lockHandle struct {
	svc  *lockService
	key  string
	done chan struct{}
	once sync.Once
}

// renew extends the lease at half its duration until Release.
func (h *lockHandle) renew(lease time.Duration) {
	ticker := time.NewTicker(lease / 2)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.svc.mu.Lock()
			h.svc.leases[h.key] = h.svc.now().Add(lease)
			h.svc.mu.Unlock()
		}
	}
}

func (h *lockHandle) Release() {
	h.once.Do(func() {
		close(h.done)
		h.svc.mu.Lock()
		delete(h.svc.leases, h.key)
		h.svc.mu.Unlock()
	})
}
