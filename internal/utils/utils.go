package utils

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// ShardIndex 計算分片索引
func ShardIndex(totalShards uint64, key string) uint64 {
	if totalShards == 0 {
		return 0
	}
	return xxhash.Sum64String(key) % totalShards
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Safe wraps fn so a panic comes back as an error carrying the stack of
// the panicking goroutine.
func Safe(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}
}
