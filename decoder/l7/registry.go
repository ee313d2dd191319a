package l7

import "github.com/cyh01/deepflow/types"

// Registry holds every parser the agent can attempt against a flow,
// grounded on the teacher's defaultGoPacketDecoders dispatch-table
// idiom (decoder/gopacketDecoder.go) generalized from "one slice of
// layer decoders" into "one slice of protocol parsers."
type Registry struct {
	parsers []L7Parser
}

// NewRegistry returns a Registry with the four fully implemented
// parsers plus the stable-coded stubs.
func NewRegistry() *Registry {
	r := &Registry{}

	r.Register(&DNSParser{})
	r.Register(&MQTTParser{})
	r.Register(&MySQLParser{})
	r.Register(&RedisParser{})
	for _, p := range stubParsers() {
		r.Register(p)
	}

	return r
}

// Register adds a parser to the registry.
func (r *Registry) Register(p L7Parser) {
	r.parsers = append(r.parsers, p)
}

// All returns every registered parser.
func (r *Registry) All() []L7Parser {
	return r.parsers
}

// For returns the parser registered for proto, or nil.
func (r *Registry) For(proto types.L7Protocol) L7Parser {
	for _, p := range r.parsers {
		if p.Protocol() == proto {
			return p
		}
	}

	return nil
}
