package circuitbreaker

import (
	"fmt"
	"sync"
	"sync/atomic"

	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

// hashMultiplier is the classic string-hash multiplier used for shard
// selection.
const hashMultiplier = 31

// shardedBreakers spreads the breaker map over 16 locks so concurrent
// requests for different providers rarely contend. The total count is kept
// separately in an atomic because enforcing the breaker cap must not require
// locking every shard.
type shardedBreakers struct {
	shards [16]struct {
		sync.RWMutex
		breakers map[string]*circuitBreaker
	}
	total atomic.Int64
}

func newShardedBreakers() *shardedBreakers {
	sb := new(shardedBreakers)
	for i := range sb.shards {
		sb.shards[i].breakers = make(map[string]*circuitBreaker)
	}
	return sb
}

func (sb *shardedBreakers) getShard(key string) int {
	var hash uint32
	for i := 0; i < len(key); i++ {
		hash = hash*hashMultiplier + uint32(key[i])
	}
	return int(hash % uint32(len(sb.shards)))
}

// get returns the breaker for key if one exists.
func (sb *shardedBreakers) get(key string) (*circuitBreaker, bool) {
	shard := &sb.shards[sb.getShard(key)]
	shard.RLock()
	breaker, exists := shard.breakers[key]
	shard.RUnlock()
	return breaker, exists
}

// getOrCreate returns the breaker for key, creating it under the shard lock
// on first use. Creation fails once the global cap is reached; the cap check
// reads the atomic total, so a burst of novel keys can overshoot by at most
// one per shard.
func (sb *shardedBreakers) getOrCreate(
	key string,
	create func() *circuitBreaker,
	maxBreakers int,
) (*circuitBreaker, error) {
	if breaker, exists := sb.get(key); exists {
		return breaker, nil
	}

	shard := &sb.shards[sb.getShard(key)]
	shard.Lock()
	defer shard.Unlock()

	if breaker, exists := shard.breakers[key]; exists {
		return breaker, nil
	}

	if maxBreakers > 0 && int(sb.total.Load()) >= maxBreakers {
		return nil, &llmerrors.ProviderError{
			Code:    "CIRCUIT_BREAKER_LIMIT",
			Message: fmt.Sprintf("circuit breaker limit reached (%d), cannot create new breaker for key: %s", maxBreakers, key),
			Type:    llmerrors.ErrorTypeCircuitBreaker,
		}
	}

	breaker := create()
	shard.breakers[key] = breaker
	sb.total.Add(1)
	return breaker, nil
}
