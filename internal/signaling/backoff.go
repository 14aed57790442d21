package signaling

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// scheduleBackOff walks a fixed list of delays and then stops.
type scheduleBackOff struct {
	delays []time.Duration
	next   int
}

var _ backoff.BackOff = (*scheduleBackOff)(nil)

func newScheduleBackOff(delays []time.Duration) *scheduleBackOff {
	return &scheduleBackOff{delays: delays}
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.next]
	b.next++
	return d
}

func (b *scheduleBackOff) Reset() {
	b.next = 0
}
