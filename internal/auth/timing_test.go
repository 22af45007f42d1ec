package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelsec/authcore/internal/auth"
)

func TestTimingDelay_FailurePathIsPadded(t *testing.T) {
	td := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 80, RandomDelayMs: 40})

	start := time.Now()
	td.Wait(false)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestTimingDelay_SuccessSkipsDelayByDefault(t *testing.T) {
	td := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 80, RandomDelayMs: 40})

	start := time.Now()
	td.Wait(true)

	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestTimingDelay_SuccessPaddedWhenConfigured(t *testing.T) {
	td := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    80,
		RandomDelayMs:  0,
		DelayOnSuccess: true,
	})

	start := time.Now()
	td.Wait(true)

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestTimingDelay_WaitFromCountsWorkAlreadyDone(t *testing.T) {
	td := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 100, RandomDelayMs: 0})

	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	td.WaitFrom(start, false)

	// The handler work counts toward the floor; total stays near the base,
	// not base plus work.
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 140*time.Millisecond)
}

func TestTimingDelay_WaitFromNeverWaitsPastTarget(t *testing.T) {
	td := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 40, RandomDelayMs: 0})

	start := time.Now()
	time.Sleep(90 * time.Millisecond)
	td.WaitFrom(start, false)

	assert.Less(t, time.Since(start), 120*time.Millisecond)
}

func TestTimingDelay_ZeroConfigDisablesPadding(t *testing.T) {
	td := auth.NewTimingDelay(auth.TimingConfig{})

	start := time.Now()
	td.Wait(false)

	assert.Less(t, time.Since(start), 10*time.Millisecond)
}
