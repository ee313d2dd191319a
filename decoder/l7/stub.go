package l7

import "github.com/cyh01/deepflow/types"

type stubState struct{}

func (s *stubState) Reset() {}

// stubParser implements L7Parser for a protocol this agent recognizes
// (it has a stable wire code and participates in session pairing) but
// does not fully parse, per the spec's framing of DNS/MQTT/MySQL/Redis
// as the four worked examples.
type stubParser struct {
	proto types.L7Protocol
}

func (p *stubParser) Protocol() types.L7Protocol { return p.proto }
func (p *stubParser) NewState() ParserState      { return &stubState{} }

func (p *stubParser) Parse(ParserState, []byte, types.PacketDirection) (Info, types.LogMessageType, error) {
	return nil, 0, ErrUnimplemented
}

func stubParsers() []L7Parser {
	return []L7Parser{
		&stubParser{proto: types.L7ProtocolHTTP1},
		&stubParser{proto: types.L7ProtocolHTTP2},
		&stubParser{proto: types.L7ProtocolDubbo},
		&stubParser{proto: types.L7ProtocolKafka},
	}
}
