package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mailsift/pkg/logger"
)

const leaseKeyPrefix = "sync:lease:"

// LeaseManager grants at most one active run per account. Backed by Redis
// SETNX with a TTL so a crashed worker cannot hold an account forever; falls
// back to an in-process table when Redis is not configured.
type LeaseManager struct {
	rdb *redis.Client
	ttl time.Duration

	mu    stdsync.Mutex
	local map[uuid.UUID]time.Time
}

// NewLeaseManager creates a lease manager. rdb may be nil.
func NewLeaseManager(rdb *redis.Client, ttl time.Duration) *LeaseManager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LeaseManager{
		rdb:   rdb,
		ttl:   ttl,
		local: make(map[uuid.UUID]time.Time),
	}
}

// Acquire takes the account's run lease. Returns false when another run
// already holds it.
func (m *LeaseManager) Acquire(ctx context.Context, accountID uuid.UUID) (bool, error) {
	if m.rdb != nil {
		ok, err := m.rdb.SetNX(ctx, leaseKeyPrefix+accountID.String(), "1", m.ttl).Result()
		if err != nil {
			// Redis down should not stop syncing entirely; degrade to the
			// in-process lease and note the degradation.
			logger.WithError(err).Warn("lease via redis failed, using in-process lease")
			return m.acquireLocal(accountID), nil
		}
		return ok, nil
	}
	return m.acquireLocal(accountID), nil
}

// Release gives the lease back at the end of a run.
func (m *LeaseManager) Release(ctx context.Context, accountID uuid.UUID) {
	if m.rdb != nil {
		if err := m.rdb.Del(ctx, leaseKeyPrefix+accountID.String()).Err(); err != nil {
			logger.WithError(err).Warn("failed to release redis lease")
		}
	}
	m.mu.Lock()
	delete(m.local, accountID)
	m.mu.Unlock()
}

func (m *LeaseManager) acquireLocal(accountID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, held := m.local[accountID]; held && time.Now().Before(expiry) {
		return false
	}
	m.local[accountID] = time.Now().Add(m.ttl)
	return true
}
