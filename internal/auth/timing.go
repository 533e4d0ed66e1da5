package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelay      time.Duration
	RandomDelay    time.Duration // upper bound of the random jitter added to BaseDelay
	DelayOnSuccess bool
}

// TimingDelay pads failed logins so that "unknown email", "wrong password"
// and "locked account" take about the same time
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandDuration returns a random duration in [0, max) from crypto/rand
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(randomBytes) % uint64(max))
}

func (td *TimingDelay) target(success bool) time.Duration {
	if success && !td.config.DelayOnSuccess {
		return 0
	}
	return td.config.BaseDelay + cryptoRandDuration(td.config.RandomDelay)
}

// Wait sleeps for base + jitter unless the context ends first
func (td *TimingDelay) Wait(ctx context.Context, success bool) {
	sleep(ctx, td.target(success))
}

// WaitFrom pads so the total time since start reaches base + jitter
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	target := td.target(success)
	if target == 0 {
		return
	}
	sleep(ctx, target-time.Since(start))
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
