package session

import (
	"testing"
	"time"

	"github.com/cyh01/deepflow/decoder/l7"
	"github.com/cyh01/deepflow/types"
)

func TestAggregatorPairsRequestAndResponse(t *testing.T) {
	a := NewAggregator(time.Second)

	dns := &l7.DNSInfo{TransID: 0x1234, QueryName: "example.com"}
	key := Key(0xaabbccddeeff0011, types.L7ProtocolDNS, types.LogMessageTypeRequest, dns, 0)

	if merged, ok := a.Observe(key, types.L7ProtocolDNS, types.LogMessageTypeRequest, dns, time.Now()); ok {
		t.Fatalf("expected no pair on first half, got %v", merged)
	}

	resp := &l7.DNSInfo{TransID: 0x1234, Answers: []l7.DNSAnswer{{Name: "example.com", Data: "1.2.3.4"}}}
	respKey := Key(0xaabbccddeeff0011, types.L7ProtocolDNS, types.LogMessageTypeResponse, resp, 0)

	if respKey != key {
		t.Fatalf("session keys for paired request/response must match: %#x != %#x", respKey, key)
	}

	merged, ok := a.Observe(respKey, types.L7ProtocolDNS, types.LogMessageTypeResponse, resp, time.Now())
	if !ok {
		t.Fatalf("expected a pairing on the second half")
	}

	mergedDNS := merged.(*l7.DNSInfo)
	if len(mergedDNS.Answers) != 1 {
		t.Fatalf("expected merged info to carry the response's answers, got %+v", mergedDNS)
	}

	if a.Len() != 0 {
		t.Fatalf("pending table should be empty after pairing, got %d", a.Len())
	}
}

func TestAggregatorEvictsStaleHalves(t *testing.T) {
	a := NewAggregator(10 * time.Millisecond)

	dns := &l7.DNSInfo{TransID: 0x99}
	key := Key(1, types.L7ProtocolDNS, types.LogMessageTypeRequest, dns, 0)
	a.Observe(key, types.L7ProtocolDNS, types.LogMessageTypeRequest, dns, time.Now())

	flushed := a.Evict(time.Now().Add(20 * time.Millisecond))
	if len(flushed) != 1 {
		t.Fatalf("expected one stale half flushed, got %d", len(flushed))
	}
	if a.Len() != 0 {
		t.Fatalf("pending table should be empty after eviction")
	}
}
