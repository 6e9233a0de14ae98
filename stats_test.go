package emgrecv

import (
	"math"
	"strings"
	"testing"
)

func TestChannelStats(t *testing.T) {
	cs := NewChannelStats(4)
	if cs.Count() != 0 {
		t.Errorf("fresh ring has count %d, want 0", cs.Count())
	}
	mTA, sTA, _, _ := cs.Summary()
	if mTA != 0 || sTA != 0 {
		t.Error("empty ring should summarize to zeros")
	}

	cs.Push(0.5, 0.25)
	mTA, sTA, mGAS, sGAS := cs.Summary()
	if mTA != 0.5 || mGAS != 0.25 {
		t.Errorf("single-sample means = %v, %v; want 0.5, 0.25", mTA, mGAS)
	}
	if sTA != 0 || sGAS != 0 {
		t.Errorf("single-sample stddevs = %v, %v; want 0, 0", sTA, sGAS)
	}

	cs.Push(0.7, 0.25)
	cs.Push(0.3, 0.25)
	mTA, sTA, mGAS, sGAS = cs.Summary()
	if math.Abs(mTA-0.5) > 1e-12 {
		t.Errorf("aTA mean = %v, want 0.5", mTA)
	}
	if sTA <= 0 {
		t.Errorf("aTA stddev = %v, want > 0", sTA)
	}
	if mGAS != 0.25 || sGAS != 0 {
		t.Errorf("constant aGAS channel: mean %v std %v, want 0.25 and 0", mGAS, sGAS)
	}
}

func TestChannelStatsEviction(t *testing.T) {
	cs := NewChannelStats(3)
	for range 10 {
		cs.Push(0.9, 0.9) // these should all be evicted
	}
	cs.Push(0.1, 0.2)
	cs.Push(0.1, 0.2)
	cs.Push(0.1, 0.2)
	if cs.Count() != 3 {
		t.Fatalf("ring count = %d, want 3 (the window)", cs.Count())
	}
	mTA, _, mGAS, _ := cs.Summary()
	if mTA != 0.1 || mGAS != 0.2 {
		t.Errorf("after eviction means = %v, %v; want 0.1, 0.2", mTA, mGAS)
	}
}

func TestChannelStatsString(t *testing.T) {
	cs := NewChannelStats(8)
	cs.Push(0.123, 0.456)
	s := cs.String()
	if !strings.Contains(s, "aTA 0.123") || !strings.Contains(s, "aGAS 0.456") {
		t.Errorf("status fragment %q lacks channel summaries", s)
	}
}
