// Package scanloop runs the hub's periodic content sweep.
package scanloop

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultMinInterval and DefaultJitterRange define the content
	// sweep cadence. Jitter keeps a fleet of hubs from hammering
	// the same feeds in lockstep.
	DefaultMinInterval = 5 * time.Minute
	DefaultJitterRange = time.Minute
)

// Run executes fn once immediately, then at a jittered interval until
// stopCh is closed. The interval is: minInterval + random([0, jitterRange)).
func Run(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	fn()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
