package l7

import (
	"testing"

	"github.com/cyh01/deepflow/types"
)

func buildRESPArray(args ...string) []byte {
	out := []byte("*" + itoaSimple(len(args)) + "\r\n")
	for _, a := range args {
		out = append(out, []byte("$"+itoaSimple(len(a))+"\r\n"+a+"\r\n")...)
	}

	return out
}

func itoaSimple(n int) string {
	if n == 0 {
		return "0"
	}

	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}

	return string(b)
}

func TestRedisParserRequestArray(t *testing.T) {
	p := &RedisParser{}

	payload := buildRESPArray("SET", "foo", "bar")

	info, msgType, err := p.Parse(p.NewState(), payload, types.DirectionClientToServer)
	if err != nil {
		t.Fatalf("parse request failed: %v", err)
	}
	if msgType != types.LogMessageTypeRequest {
		t.Fatalf("expected request, got %v", msgType)
	}

	rinfo := info.(*RedisInfo)
	if string(rinfo.RequestType) != "SET" {
		t.Fatalf("unexpected request type: %q", rinfo.RequestType)
	}
	if string(rinfo.Request) != "SET foo bar" {
		t.Fatalf("unexpected request: %q", rinfo.Request)
	}
}

func TestRedisParserStatusResponse(t *testing.T) {
	p := &RedisParser{}

	payload := []byte("+OK\r\n")

	info, msgType, err := p.Parse(p.NewState(), payload, types.DirectionServerToClient)
	if err != nil {
		t.Fatalf("parse response failed: %v", err)
	}
	if msgType != types.LogMessageTypeResponse {
		t.Fatalf("expected response, got %v", msgType)
	}

	rinfo := info.(*RedisInfo)
	if string(rinfo.Response) != "OK" {
		t.Fatalf("unexpected response: %q", rinfo.Response)
	}
	if rinfo.Status != types.L7ResponseStatusOk {
		t.Fatalf("unexpected status: %v", rinfo.Status)
	}
}

func TestRedisParserErrorResponse(t *testing.T) {
	p := &RedisParser{}

	payload := []byte("-ERR unknown command\r\n")

	info, _, err := p.Parse(p.NewState(), payload, types.DirectionServerToClient)
	if err != nil {
		t.Fatalf("parse error response failed: %v", err)
	}

	rinfo := info.(*RedisInfo)
	if string(rinfo.Error) != "ERR unknown command" {
		t.Fatalf("unexpected error: %q", rinfo.Error)
	}
	if rinfo.Status != types.L7ResponseStatusServerError {
		t.Fatalf("expected ServerError status, got %v", rinfo.Status)
	}
}

func TestRedisParserBulkNilResponse(t *testing.T) {
	p := &RedisParser{}

	payload := []byte("$-1\r\n")

	info, _, err := p.Parse(p.NewState(), payload, types.DirectionServerToClient)
	if err != nil {
		t.Fatalf("parse nil bulk failed: %v", err)
	}

	rinfo := info.(*RedisInfo)
	if rinfo.Response != nil {
		t.Fatalf("expected nil response for $-1, got %q", rinfo.Response)
	}
}
