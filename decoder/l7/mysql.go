package l7

import (
	"bytes"
	"encoding/binary"

	"github.com/cyh01/deepflow/types"
)

// MySQL command bytes, grounded on mysql.rs's command dispatch table.
const (
	mysqlComQuit        = 0x01
	mysqlComInitDB       = 0x02
	mysqlComQuery        = 0x03
	mysqlComFieldList    = 0x04
	mysqlComStmtPrepare  = 0x16
	mysqlComStmtExecute  = 0x17
	mysqlComStmtClose    = 0x19
	mysqlComStmtFetch    = 0x1c
)

const (
	mysqlResponseOK  = 0x00
	mysqlResponseEOF = 0xfe
	mysqlResponseErr = 0xff
)

const (
	mysqlIntFlags2 = 0xfc
	mysqlIntFlags3 = 0xfd
	mysqlIntFlags8 = 0xfe
	mysqlIntBase   = 0xfb
)

// MySQLInfo is the parsed payload of one MySQL request/response pair,
// grounded on mysql.rs's MysqlInfo.
type MySQLInfo struct {
	ProtocolVersion uint8
	ServerVersion   string
	ServerThreadID  uint32
	Command         uint8
	Context         string
	ResponseCode    uint8
	ErrorCode       uint16
	AffectedRows    uint64
	ErrorMessage    string
}

func (m *MySQLInfo) L7Protocol() types.L7Protocol { return types.L7ProtocolMySQL }

// Merge overwrites the request's response fields with the response's,
// grounded on mysql.rs's MysqlInfo::merge.
func (m *MySQLInfo) Merge(other Info) {
	o, ok := other.(*MySQLInfo)
	if !ok {
		return
	}

	if o.ResponseCode != 0 || o.ErrorCode != 0 {
		m.ResponseCode = o.ResponseCode
		m.ErrorCode = o.ErrorCode
		m.AffectedRows = o.AffectedRows
		m.ErrorMessage = o.ErrorMessage
	}
}

type mysqlState struct {
	seenGreeting bool
}

func (s *mysqlState) Reset() { *s = mysqlState{} }

// MySQLParser implements L7Parser for the MySQL client/server protocol.
type MySQLParser struct{}

func (p *MySQLParser) Protocol() types.L7Protocol { return types.L7ProtocolMySQL }
func (p *MySQLParser) NewState() ParserState      { return &mysqlState{} }

func (p *MySQLParser) Parse(stateIface ParserState, payload []byte, dir types.PacketDirection) (Info, types.LogMessageType, error) {
	state, _ := stateIface.(*mysqlState)

	if len(payload) < 5 {
		return nil, 0, ErrNotThisProtocol
	}

	length := int(payload[0]) | int(payload[1])<<8 | int(payload[2])<<16
	seq := payload[3]
	body := payload[4:]
	if length > len(body) {
		length = len(body)
	}
	body = body[:length]

	if dir == types.DirectionServerToClient && seq == 0 && state != nil && !state.seenGreeting {
		info, err := parseGreeting(body)
		if err != nil {
			return nil, 0, ErrNotThisProtocol
		}

		state.seenGreeting = true

		return info, types.LogMessageTypeOther, nil
	}

	if dir == types.DirectionClientToServer {
		info, err := parseRequest(body)
		if err != nil {
			return nil, 0, ErrNotThisProtocol
		}

		return info, types.LogMessageTypeRequest, nil
	}

	info, err := parseResponse(body)
	if err != nil {
		return nil, 0, ErrNotThisProtocol
	}

	return info, types.LogMessageTypeResponse, nil
}

func parseGreeting(body []byte) (*MySQLInfo, error) {
	if len(body) < 1 {
		return nil, errNotEnough
	}

	info := &MySQLInfo{ProtocolVersion: body[0]}

	rest := body[1:]
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return nil, errNotEnough
	}

	info.ServerVersion = string(rest[:nul])
	rest = rest[nul+1:]

	if len(rest) < 4 {
		return nil, errNotEnough
	}

	info.ServerThreadID = binary.LittleEndian.Uint32(rest[:4])

	return info, nil
}

// parseRequest dispatches on the command byte, grounded on mysql.rs's
// MysqlLog::request: some commands carry no further string payload,
// others carry a UTF-8 command context (the query text, the schema
// name, ...).
func parseRequest(body []byte) (*MySQLInfo, error) {
	if len(body) < 1 {
		return nil, errNotEnough
	}

	info := &MySQLInfo{Command: body[0]}

	switch body[0] {
	case mysqlComQuit, mysqlComFieldList, mysqlComStmtExecute, mysqlComStmtClose, mysqlComStmtFetch:
		// no string payload carried onward
	case mysqlComInitDB, mysqlComQuery, mysqlComStmtPrepare:
		info.Context = mysqlString(body[1:])
	}

	return info, nil
}

// mysqlString strips the 0x00 0x01 prefix MySQL 8.0.26 prepends to some
// command payloads, grounded on mysql.rs's mysql_string.
func mysqlString(b []byte) string {
	if len(b) >= 2 && b[0] == 0x00 && b[1] == 0x01 {
		b = b[2:]
	}

	return string(b)
}

func parseResponse(body []byte) (*MySQLInfo, error) {
	if len(body) < 1 {
		return nil, errNotEnough
	}

	info := &MySQLInfo{ResponseCode: body[0]}

	switch body[0] {
	case mysqlResponseErr:
		if len(body) < 3 {
			return nil, errNotEnough
		}

		info.ErrorCode = binary.LittleEndian.Uint16(body[1:3])
		msg := body[3:]
		if len(msg) > 0 && msg[0] == '#' && len(msg) >= 6 {
			msg = msg[6:] // skip the SQL_STATE marker '#' + 5-byte state
		}

		info.ErrorMessage = string(msg)
	case mysqlResponseOK:
		n, _, err := decodeCompressInt(body[1:])
		if err == nil {
			info.AffectedRows = n
		}
	}

	return info, nil
}

// decodeCompressInt decodes a MySQL length-encoded integer, grounded on
// mysql.rs's decode_compress_int.
func decodeCompressInt(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, errNotEnough
	}

	switch {
	case b[0] < mysqlIntBase:
		return uint64(b[0]), 1, nil
	case b[0] == mysqlIntFlags2:
		if len(b) < 3 {
			return 0, 0, errNotEnough
		}

		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	case b[0] == mysqlIntFlags3:
		if len(b) < 4 {
			return 0, 0, errNotEnough
		}

		v := uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16

		return v, 4, nil
	case b[0] == mysqlIntFlags8:
		if len(b) < 9 {
			return 0, 0, errNotEnough
		}

		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	default:
		return 0, 0, errNotEnough
	}
}

// classifyMySQLError maps a MySQL error code into an L7ResponseStatus,
// grounded on mysql.rs's set_status (2000-2999 are client errors,
// everything else nonzero is a server error, zero is Ok).
func classifyMySQLError(code uint16) types.L7ResponseStatus {
	switch {
	case code == 0:
		return types.L7ResponseStatusOk
	case code >= 2000 && code < 3000:
		return types.L7ResponseStatusClientError
	default:
		return types.L7ResponseStatusServerError
	}
}

var errNotEnough = ErrNotThisProtocol
