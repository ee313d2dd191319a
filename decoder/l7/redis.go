package l7

import (
	"bytes"

	"github.com/cyh01/deepflow/types"
)

// RedisInfo is the parsed payload of one Redis request/response pair,
// grounded on redis.rs's RedisInfo.
type RedisInfo struct {
	Request     []byte
	RequestType []byte
	Response    []byte
	Status      types.L7ResponseStatus
	Error       []byte
}

func (r *RedisInfo) L7Protocol() types.L7Protocol { return types.L7ProtocolRedis }

// Merge overwrites the response/status/error fields, grounded on
// redis.rs's RedisInfo::merge.
func (r *RedisInfo) Merge(other Info) {
	o, ok := other.(*RedisInfo)
	if !ok {
		return
	}

	if o.Response != nil {
		r.Response = o.Response
	}
	if o.Error != nil {
		r.Error = o.Error
		r.Status = o.Status
	}
}

type redisState struct{}

func (s *redisState) Reset() {}

// RedisParser implements L7Parser for the Redis RESP protocol.
type RedisParser struct{}

func (p *RedisParser) Protocol() types.L7Protocol { return types.L7ProtocolRedis }
func (p *RedisParser) NewState() ParserState      { return &redisState{} }

func (p *RedisParser) Parse(state ParserState, payload []byte, dir types.PacketDirection) (Info, types.LogMessageType, error) {
	if len(payload) == 0 {
		return nil, 0, ErrNotThisProtocol
	}

	if dir == types.DirectionClientToServer {
		return parseRedisRequest(payload)
	}

	return parseRedisResponse(payload)
}

// findSeparator scans for the RESP "\r\n" terminator, grounded on
// redis.rs's find_separator.
func findSeparator(b []byte) int {
	return bytes.Index(b, []byte("\r\n"))
}

func parseRedisRequest(payload []byte) (Info, types.LogMessageType, error) {
	var command []byte

	switch payload[0] {
	case '*':
		args, err := decodeAsterisk(payload)
		if err != nil || len(args) == 0 {
			return nil, 0, ErrNotThisProtocol
		}

		command = bytes.Join(args, []byte(" "))
	default:
		end := findSeparator(payload)
		if end < 0 {
			return nil, 0, ErrNotThisProtocol
		}

		command = payload[:end]
	}

	info := &RedisInfo{Request: command}

	if sp := bytes.IndexByte(command, ' '); sp >= 0 {
		info.RequestType = command[:sp]
	} else {
		info.RequestType = command
	}

	return info, types.LogMessageTypeRequest, nil
}

func parseRedisResponse(payload []byte) (Info, types.LogMessageType, error) {
	info := &RedisInfo{Status: types.L7ResponseStatusOk}

	switch payload[0] {
	case '+':
		end := findSeparator(payload)
		if end < 0 {
			return nil, 0, ErrNotThisProtocol
		}

		info.Response = payload[1:end]
	case '-':
		end := findSeparator(payload)
		if end < 0 {
			return nil, 0, ErrNotThisProtocol
		}

		info.Error = payload[1:end]
		info.Status = types.L7ResponseStatusServerError
	case '$':
		data, _, err := decodeDollar(payload, true)
		if err != nil {
			return nil, 0, ErrNotThisProtocol
		}

		info.Response = data
	case ':':
		end := findSeparator(payload)
		if end < 0 {
			return nil, 0, ErrNotThisProtocol
		}

		info.Response = payload[1:end]
	case '*':
		args, err := decodeAsterisk(payload)
		if err != nil {
			return nil, 0, ErrNotThisProtocol
		}

		info.Response = bytes.Join(args, []byte(","))
	default:
		return nil, 0, ErrNotThisProtocol
	}

	return info, types.LogMessageTypeResponse, nil
}

// decodeInteger parses the ASCII integer preceding the next separator,
// grounded on redis.rs's decode_integer.
func decodeInteger(b []byte) (int, int, error) {
	end := findSeparator(b)
	if end < 0 {
		return 0, 0, ErrNotThisProtocol
	}

	neg := false
	i := 1
	if i < end && b[i] == '-' {
		neg = true
		i++
	}

	n := 0
	for ; i < end; i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, 0, ErrNotThisProtocol
		}

		n = n*10 + int(b[i]-'0')
	}

	if neg {
		n = -n
	}

	return n, end + 2, nil
}

// decodeDollar decodes a RESP bulk string ("$<len>\r\n<data>\r\n"),
// grounded on redis.rs's decode_dollor. A non-positive length means
// nil/empty and returns immediately without consuming a body. In strict
// mode a malformed trailing terminator is an error; lenient mode (used
// when parsing an embedded bulk string inside an array) accepts
// whatever is left.
func decodeDollar(b []byte, strict bool) ([]byte, int, error) {
	n, bodyStart, err := decodeInteger(b)
	if err != nil {
		return nil, 0, err
	}

	if n <= 0 {
		return nil, bodyStart, nil
	}

	if bodyStart+n > len(b) {
		if strict {
			return nil, 0, ErrNotThisProtocol
		}

		return b[bodyStart:], len(b), nil
	}

	data := b[bodyStart : bodyStart+n]
	end := bodyStart + n

	if end+2 <= len(b) && b[end] == '\r' && b[end+1] == '\n' {
		end += 2
	} else if strict {
		return nil, 0, ErrNotThisProtocol
	}

	return data, end, nil
}

// decodeAsterisk decodes a RESP array of bulk strings, grounded on
// redis.rs's decode_asterisk: the request command line is the
// space-joined concatenation of each element's bulk string.
func decodeAsterisk(b []byte) ([][]byte, error) {
	count, offset, err := decodeInteger(b)
	if err != nil {
		return nil, err
	}

	if count < 0 {
		return nil, nil
	}

	args := make([][]byte, 0, count)

	for i := 0; i < count; i++ {
		if offset >= len(b) || b[offset] != '$' {
			return nil, ErrNotThisProtocol
		}

		data, next, err := decodeDollar(b[offset:], false)
		if err != nil {
			return nil, err
		}

		args = append(args, data)
		offset += next
	}

	return args, nil
}
