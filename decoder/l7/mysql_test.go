package l7

import (
	"testing"

	"github.com/cyh01/deepflow/types"
)

func mysqlPacket(seq byte, body []byte) []byte {
	length := len(body)
	header := []byte{byte(length), byte(length >> 8), byte(length >> 16), seq}

	return append(header, body...)
}

func TestMySQLParserGreeting(t *testing.T) {
	body := []byte{10} // protocol version
	body = append(body, "8.0.26"...)
	body = append(body, 0) // NUL terminator
	body = append(body, 0x2a, 0x00, 0x00, 0x00)
	body = append(body, make([]byte, 10)...) // padding, not read by this parser

	packet := mysqlPacket(0, body)

	p := &MySQLParser{}
	state := p.NewState()

	info, msgType, err := p.Parse(state, packet, types.DirectionServerToClient)
	if err != nil {
		t.Fatalf("parse greeting failed: %v", err)
	}
	if msgType != types.LogMessageTypeOther {
		t.Fatalf("expected Other for greeting, got %v", msgType)
	}

	ginfo := info.(*MySQLInfo)
	if ginfo.ServerVersion != "8.0.26" || ginfo.ServerThreadID != 0x2a {
		t.Fatalf("unexpected greeting fields: %+v", ginfo)
	}
}

func TestMySQLParserQueryRequest(t *testing.T) {
	body := append([]byte{mysqlComQuery}, "SELECT 1"...)
	packet := mysqlPacket(0, body)

	p := &MySQLParser{}

	info, msgType, err := p.Parse(p.NewState(), packet, types.DirectionClientToServer)
	if err != nil {
		t.Fatalf("parse query failed: %v", err)
	}
	if msgType != types.LogMessageTypeRequest {
		t.Fatalf("expected request, got %v", msgType)
	}

	qinfo := info.(*MySQLInfo)
	if qinfo.Context != "SELECT 1" {
		t.Fatalf("unexpected query context: %q", qinfo.Context)
	}
}

func TestMySQLParserErrorResponse(t *testing.T) {
	body := []byte{mysqlResponseErr, 0x54, 0x04} // error code 1108 little-endian
	body = append(body, "#42000"...)
	body = append(body, "Unknown error"...)
	packet := mysqlPacket(1, body)

	p := &MySQLParser{}

	info, msgType, err := p.Parse(p.NewState(), packet, types.DirectionServerToClient)
	if err != nil {
		t.Fatalf("parse error response failed: %v", err)
	}
	if msgType != types.LogMessageTypeResponse {
		t.Fatalf("expected response, got %v", msgType)
	}

	einfo := info.(*MySQLInfo)
	if einfo.ErrorCode != 0x0454 {
		t.Fatalf("unexpected error code: %#x", einfo.ErrorCode)
	}
	if einfo.ErrorMessage != "Unknown error" {
		t.Fatalf("unexpected error message: %q", einfo.ErrorMessage)
	}
}

func TestDecodeCompressIntSingleByte(t *testing.T) {
	n, consumed, err := decodeCompressInt([]byte{0x05})
	if err != nil || n != 5 || consumed != 1 {
		t.Fatalf("unexpected decode: n=%d consumed=%d err=%v", n, consumed, err)
	}
}

func TestDecodeCompressInt2Byte(t *testing.T) {
	n, consumed, err := decodeCompressInt([]byte{mysqlIntFlags2, 0x01, 0x02})
	if err != nil || n != 0x0201 || consumed != 3 {
		t.Fatalf("unexpected decode: n=%d consumed=%d err=%v", n, consumed, err)
	}
}
