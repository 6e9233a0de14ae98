package emgrecv

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ChannelStats keeps a fixed-size ring of the most recent channel samples
// so the periodic status line can report short-term mean and spread without
// unbounded memory growth. It is touched only by the receive loop.
type ChannelStats struct {
	ata  []float64
	agas []float64
	next int
	n    int
}

// NewChannelStats makes a ring holding the last `window` samples.
func NewChannelStats(window int) *ChannelStats {
	if window < 1 {
		window = 1
	}
	return &ChannelStats{
		ata:  make([]float64, window),
		agas: make([]float64, window),
	}
}

// Push adds one sample pair, evicting the oldest when the ring is full.
func (cs *ChannelStats) Push(ata, agas float64) {
	cs.ata[cs.next] = ata
	cs.agas[cs.next] = agas
	cs.next = (cs.next + 1) % len(cs.ata)
	if cs.n < len(cs.ata) {
		cs.n++
	}
}

// Count returns how many samples the ring currently holds.
func (cs *ChannelStats) Count() int { return cs.n }

// Summary returns mean and standard deviation for both channels over the
// ring contents.
func (cs *ChannelStats) Summary() (meanTA, stdTA, meanGAS, stdGAS float64) {
	if cs.n == 0 {
		return 0, 0, 0, 0
	}
	meanTA, stdTA = stat.MeanStdDev(cs.ata[:cs.n], nil)
	meanGAS, stdGAS = stat.MeanStdDev(cs.agas[:cs.n], nil)
	if cs.n < 2 {
		// Sample standard deviation is undefined for a single point.
		stdTA, stdGAS = 0, 0
	}
	return meanTA, stdTA, meanGAS, stdGAS
}

// String renders a status-line fragment like "aTA 0.123±0.045 aGAS 0.456±0.067".
func (cs *ChannelStats) String() string {
	mTA, sTA, mGAS, sGAS := cs.Summary()
	return fmt.Sprintf("aTA %.3f±%.3f aGAS %.3f±%.3f", mTA, sTA, mGAS, sGAS)
}
