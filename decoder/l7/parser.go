// Package l7 implements application-layer protocol parsers that run
// over per-packet flow payloads: DNS, MQTT, MySQL and Redis in full,
// plus stable-coded stubs for HTTP/Dubbo/Kafka.
package l7

import (
	"github.com/pkg/errors"

	"github.com/cyh01/deepflow/types"
)

// ErrUnimplemented is returned by protocols that are wired into the
// session/sniff machinery (stable L7Protocol code, participates in
// session key derivation) but have no full parser body.
var ErrUnimplemented = errors.New("l7: protocol parser not implemented")

// ErrNotThisProtocol is returned by Parse when the payload is
// structurally inconsistent with the parser's protocol, signalling the
// sniff bitmap should clear this protocol's candidacy for the flow.
var ErrNotThisProtocol = errors.New("l7: payload does not match protocol")

// ParserState is the long-lived, per-flow-per-protocol state a parser
// carries across calls to Parse, e.g. the MQTT client id learned from
// CONNECT, or whether a MySQL server greeting was already seen.
type ParserState interface {
	// Reset clears accumulated per-flow state; the MQTT parser calls it
	// when the client disconnects.
	Reset()
}

// Info is implemented by every protocol-specific info/log payload
// produced by Parse.
type Info interface {
	// Merge folds a later half of the same transaction (typically a
	// response) into this one.
	Merge(other Info)
	// L7Protocol reports this info's stable protocol code.
	L7Protocol() types.L7Protocol
}

// L7Parser is the shared interface all protocol parsers implement,
// grounded on protocol_logs/mod.rs's shared L7LogParse trait
// (parse/info) generalized to Go's explicit-state idiom.
type L7Parser interface {
	// Protocol returns this parser's stable L7Protocol code.
	Protocol() types.L7Protocol

	// NewState constructs fresh per-flow state for this parser.
	NewState() ParserState

	// Parse attempts to interpret payload as one transaction half
	// travelling in dir. It returns the parsed Info, the message type
	// the payload represents, and an error: ErrNotThisProtocol and
	// ErrUnimplemented demote the protocol for the flow's sniff bitmap,
	// any other error is a recoverable parse failure that does not
	// demote the protocol.
	Parse(state ParserState, payload []byte, dir types.PacketDirection) (Info, types.LogMessageType, error)
}

// classifyRCode maps a DNS-style 4-bit response code into an
// L7ResponseStatus, grounded on dns.rs's set_status (0 -> Ok, {1,3} ->
// ClientError, anything else -> ServerError).
func classifyRCode(rcode uint8) types.L7ResponseStatus {
	switch rcode {
	case 0:
		return types.L7ResponseStatusOk
	case 1, 3:
		return types.L7ResponseStatusClientError
	default:
		return types.L7ResponseStatusServerError
	}
}
