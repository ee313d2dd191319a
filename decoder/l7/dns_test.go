package l7

import (
	"encoding/binary"
	"testing"

	"github.com/cyh01/deepflow/types"
)

func encodeName(name string) []byte {
	var out []byte
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			out = append(out, byte(len(label)))
			out = append(out, label...)
			start = i + 1
		}
	}
	return append(out, 0)
}

func buildDNSQuery(transID uint16, name string, qtype uint16) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], transID)
	binary.BigEndian.PutUint16(buf[4:6], 1) // qdcount

	buf = append(buf, encodeName(name)...)

	qtail := make([]byte, 4)
	binary.BigEndian.PutUint16(qtail[0:2], qtype)
	binary.BigEndian.PutUint16(qtail[2:4], 1) // class IN
	buf = append(buf, qtail...)

	return buf
}

func buildDNSResponse(transID uint16, name string, ip [4]byte) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], transID)
	buf[2] = 0x80 // QR=1 (response)
	binary.BigEndian.PutUint16(buf[4:6], 1) // qdcount
	binary.BigEndian.PutUint16(buf[6:8], 1) // ancount

	buf = append(buf, encodeName(name)...)
	qtail := make([]byte, 4)
	binary.BigEndian.PutUint16(qtail[0:2], 1)
	binary.BigEndian.PutUint16(qtail[2:4], 1)
	buf = append(buf, qtail...)

	// answer: pointer to offset 12, type A, class IN, ttl, rdlength 4, rdata
	answer := make([]byte, 0, 16)
	answer = append(answer, 0xc0, 0x0c)
	rest := make([]byte, 10)
	binary.BigEndian.PutUint16(rest[0:2], 1)
	binary.BigEndian.PutUint16(rest[2:4], 1)
	binary.BigEndian.PutUint32(rest[4:8], 60)
	binary.BigEndian.PutUint16(rest[8:10], 4)
	answer = append(answer, rest...)
	answer = append(answer, ip[:]...)

	return append(buf, answer...)
}

func TestDNSParserQueryThenResponse(t *testing.T) {
	p := &DNSParser{}
	state := p.NewState()

	query := buildDNSQuery(0x1234, "example.com", 1)
	info, msgType, err := p.Parse(state, query, types.DirectionClientToServer)
	if err != nil {
		t.Fatalf("parse query failed: %v", err)
	}
	if msgType != types.LogMessageTypeRequest {
		t.Fatalf("expected request, got %v", msgType)
	}

	qinfo := info.(*DNSInfo)
	if qinfo.QueryName != "example.com" {
		t.Fatalf("unexpected query name: %q", qinfo.QueryName)
	}
	if id, ok := qinfo.SessionID(); !ok || id != 0x1234 {
		t.Fatalf("unexpected session id: %d ok=%v", id, ok)
	}

	resp := buildDNSResponse(0x1234, "example.com", [4]byte{93, 184, 216, 34})
	rinfo, msgType, err := p.Parse(state, resp, types.DirectionServerToClient)
	if err != nil {
		t.Fatalf("parse response failed: %v", err)
	}
	if msgType != types.LogMessageTypeResponse {
		t.Fatalf("expected response, got %v", msgType)
	}

	dinfo := rinfo.(*DNSInfo)
	if len(dinfo.Answers) != 1 || dinfo.Answers[0].Data != "93.184.216.34" {
		t.Fatalf("unexpected answers: %+v", dinfo.Answers)
	}
	if dinfo.Status != types.L7ResponseStatusOk {
		t.Fatalf("expected Ok status, got %v", dinfo.Status)
	}

	qinfo.Merge(dinfo)
	if len(qinfo.Answers) != 1 {
		t.Fatalf("merge did not carry answers onto the request-side info")
	}
}

func TestDNSParserRejectsShortPayload(t *testing.T) {
	p := &DNSParser{}
	state := p.NewState()

	_, _, err := p.Parse(state, []byte{0x01, 0x02}, types.DirectionClientToServer)
	if err != ErrNotThisProtocol {
		t.Fatalf("expected ErrNotThisProtocol, got %v", err)
	}
}

func TestDNSParserRejectsReservedLabelType(t *testing.T) {
	// A label-length byte with top bits "10" (0x80-0xbf) is a reserved
	// type, not a valid label length, and must be rejected.
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[4:6], 1)
	buf = append(buf, 0x80)
	buf = append(buf, 0, 0, 0, 0, 0)

	p := &DNSParser{}
	_, _, err := p.Parse(p.NewState(), buf, types.DirectionClientToServer)
	if err != ErrNotThisProtocol {
		t.Fatalf("expected ErrNotThisProtocol for reserved label type, got %v", err)
	}
}

func TestDNSParserRejectsForwardCompressionPointer(t *testing.T) {
	// A name whose pointer targets an offset at/after itself must be rejected.
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[4:6], 1)
	buf = append(buf, 0xc0, 0x20) // pointer far beyond the message
	buf = append(buf, 0, 0, 0, 0, 0)

	p := &DNSParser{}
	_, _, err := p.Parse(p.NewState(), buf, types.DirectionClientToServer)
	if err != ErrNotThisProtocol {
		t.Fatalf("expected ErrNotThisProtocol for forward pointer, got %v", err)
	}
}
