package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig tunes the response-time padding on credential checks.
type TimingConfig struct {
	BaseDelayMs    int  // minimum padding in milliseconds
	RandomDelayMs  int  // random jitter range in milliseconds
	DelayOnSuccess bool // pad successful logins too
}

// TimingDelay pads login responses so that unknown-account and wrong-password
// failures are indistinguishable by response time. The login orchestrator
// calls Wait on every failure path, including the ones that never reach a
// bcrypt comparison.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay.
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// jitterMs draws a uniform value in [0, max) from crypto/rand. The jitter
// itself is an anti-measurement device, so it must not come from a seedable
// generator.
func jitterMs(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint64(buf[:]) % uint64(max)), nil
}

func (td *TimingDelay) target() time.Duration {
	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if jitter, err := jitterMs(td.config.RandomDelayMs); err == nil {
		delay += time.Duration(jitter) * time.Millisecond
	}
	return delay
}

// Wait sleeps for the configured base plus jitter. Success skips the delay
// unless DelayOnSuccess is set.
func (td *TimingDelay) Wait(success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	time.Sleep(td.target())
}

// WaitFrom tops the elapsed time since startTime up to the target delay, so
// paths that already spent time hashing do not get padded twice.
func (td *TimingDelay) WaitFrom(startTime time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	target := td.target()
	if elapsed := time.Since(startTime); elapsed < target {
		time.Sleep(target - elapsed)
	}
}
