package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds the delay applied to failed code submissions
type TimingConfig struct {
	BaseDelay   time.Duration
	RandomDelay time.Duration // Upper bound of the random jitter added to BaseDelay
}

// TimingDelay pads failed verifications to a similar duration so response
// time does not reveal which check rejected the code.
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config, sleep: time.Sleep}
}

// cryptoRandDuration returns a secure random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(max))
}

// Target returns the padded duration for one failure
func (td *TimingDelay) Target() time.Duration {
	return td.config.BaseDelay + cryptoRandDuration(td.config.RandomDelay)
}

// WaitFrom sleeps until at least Target has elapsed since start. Successful
// submissions return immediately.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if td == nil || success {
		return
	}
	if remaining := td.Target() - time.Since(start); remaining > 0 {
		td.sleep(remaining)
	}
}
