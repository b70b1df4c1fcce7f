package cache

import (
	"math/rand"
	"time"
)

// JitterTTL trims up to a tenth off ttl so keys written in the same burst expire apart.
func JitterTTL(ttl time.Duration) time.Duration {
	spread := ttl / 10
	if spread <= 0 {
		return ttl
	}
	return ttl - time.Duration(rand.Int63n(int64(spread+1)))
}
