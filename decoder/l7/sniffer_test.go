package l7

import (
	"testing"
	"time"

	"github.com/cyh01/deepflow/types"
)

func TestSnifferPairsDNSQueryAndResponseAcrossFeeds(t *testing.T) {
	reg := NewRegistry()
	s := NewSniffer(reg, time.Second)

	now := time.Now()

	query := buildDNSQuery(0x55aa, "example.org", 1)
	if merged := s.Feed(1, query, types.DirectionClientToServer, now); merged != nil {
		t.Fatalf("expected no pairing on the request half, got %v", merged)
	}

	resp := buildDNSResponse(0x55aa, "example.org", [4]byte{93, 184, 216, 34})
	merged := s.Feed(1, resp, types.DirectionServerToClient, now.Add(time.Millisecond))
	if merged == nil {
		t.Fatalf("expected a pairing once the response arrives")
	}

	dns, ok := merged.(*DNSInfo)
	if !ok {
		t.Fatalf("expected *DNSInfo, got %T", merged)
	}
	if len(dns.Answers) != 1 {
		t.Fatalf("expected the merged record to carry the response's answers")
	}
}

func TestSnifferNarrowsBitmapOnRejection(t *testing.T) {
	reg := NewRegistry()
	s := NewSniffer(reg, time.Second)

	// Two bytes is too short for any real parser to accept; every
	// registered parser should reject it and get cleared from the
	// flow's candidate bitmap.
	s.Feed(42, []byte{0x00, 0x01}, types.DirectionClientToServer, time.Now())

	fs := s.stateFor(42)
	if !fs.bitmap.Empty() {
		t.Fatalf("expected every candidate to be cleared after a universal rejection, bitmap=%v", fs.bitmap)
	}
}

func TestSnifferEvictStaleFlushesUnpairedHalf(t *testing.T) {
	reg := NewRegistry()
	s := NewSniffer(reg, 10*time.Millisecond)

	now := time.Now()
	query := buildDNSQuery(0x1, "unanswered.test", 1)
	s.Feed(7, query, types.DirectionClientToServer, now)

	stale := s.EvictStale(now.Add(time.Second))
	if len(stale) != 1 {
		t.Fatalf("expected exactly one stale half-transaction, got %d", len(stale))
	}
}

func TestSnifferForgetDropsFlowState(t *testing.T) {
	reg := NewRegistry()
	s := NewSniffer(reg, time.Second)

	s.Feed(9, buildDNSQuery(0x2, "forget.test", 1), types.DirectionClientToServer, time.Now())
	if _, ok := s.flows[9]; !ok {
		t.Fatalf("expected flow state to exist before Forget")
	}

	s.Forget(9)
	if _, ok := s.flows[9]; ok {
		t.Fatalf("expected Forget to remove the flow's sniffing state")
	}
}
