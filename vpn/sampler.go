package vpn

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/yllada/vpn-dialer/common"
)

// Sample is one reading of a handle's cumulative counters.
type Sample struct {
	BytesSent     uint64
	BytesReceived uint64
	SampledAt     time.Time
}

// Rates are instantaneous throughput values in bytes per second.
type Rates struct {
	Upload   float64
	Download float64
}

// lastReading is the previous sample kept for one direction.
type lastReading struct {
	bytes uint64
	at    time.Time
	valid bool
}

// Sampler derives transfer rates from consecutive counter readings.
// It is owned by the coordinator goroutine and is not safe for concurrent use.
type Sampler struct {
	interval time.Duration
	sent     lastReading
	received lastReading
	warn     rate.Sometimes
}

// NewSampler creates a sampler for ticks of the given interval.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = common.TickInterval
	}
	return &Sampler{
		interval: interval,
		warn:     rate.Sometimes{First: 1, Interval: common.SamplerWarnInterval},
	}
}

// Reset discards the previous readings. The next Sample reports zero.
func (s *Sampler) Reset() {
	s.sent = lastReading{}
	s.received = lastReading{}
}

// Sample reads h and returns the rates since the previous call.
// A nil handle or a failed read yields zero for that direction.
func (s *Sampler) Sample(h Handle, now time.Time) Rates {
	if h == nil {
		s.Reset()
		return Rates{}
	}

	sent, sentErr := h.BytesSent()
	received, recvErr := h.BytesReceived()

	return Rates{
		Upload:   s.advance(&s.sent, sent, sentErr, now),
		Download: s.advance(&s.received, received, recvErr, now),
	}
}

func (s *Sampler) advance(prev *lastReading, current uint64, err error, now time.Time) float64 {
	if err != nil {
		prev.valid = false
		if !errors.Is(err, common.ErrStaleHandle) {
			s.warn.Do(func() {
				common.LogWarn("Throughput sample skipped: %v", err)
			})
		}
		return 0
	}

	last := *prev
	*prev = lastReading{bytes: current, at: now, valid: true}

	if !last.valid || current < last.bytes {
		return 0
	}

	elapsed := now.Sub(last.at)
	if elapsed <= 0 {
		elapsed = s.interval
	}
	return float64(current-last.bytes) / elapsed.Seconds()
}
