package types

// L4Protocol identifies the transport-layer protocol carried by a Flow.
type L4Protocol uint8

const (
	L4ProtocolUnknown L4Protocol = 0
	L4ProtocolTCP     L4Protocol = 1
	L4ProtocolUDP     L4Protocol = 2
)

func (p L4Protocol) String() string {
	switch p {
	case L4ProtocolTCP:
		return "TCP"
	case L4ProtocolUDP:
		return "UDP"
	default:
		return "Unknown"
	}
}

// L7Protocol carries a stable wire code: these values are persisted in
// audit records and must never be renumbered.
type L7Protocol uint8

const (
	L7ProtocolUnknown  L7Protocol = 0
	L7ProtocolOther    L7Protocol = 1
	L7ProtocolHTTP1    L7Protocol = 20
	L7ProtocolHTTP2    L7Protocol = 21
	L7ProtocolHTTP1TLS L7Protocol = 22
	L7ProtocolHTTP2TLS L7Protocol = 23
	L7ProtocolDubbo    L7Protocol = 40
	L7ProtocolMySQL    L7Protocol = 60
	L7ProtocolRedis    L7Protocol = 80
	L7ProtocolKafka    L7Protocol = 100
	L7ProtocolMQTT     L7Protocol = 101
	L7ProtocolDNS      L7Protocol = 120
	L7ProtocolMax      L7Protocol = 255
)

func (p L7Protocol) String() string {
	switch p {
	case L7ProtocolOther:
		return "Other"
	case L7ProtocolHTTP1:
		return "HTTP1"
	case L7ProtocolHTTP2:
		return "HTTP2"
	case L7ProtocolHTTP1TLS:
		return "HTTP1TLS"
	case L7ProtocolHTTP2TLS:
		return "HTTP2TLS"
	case L7ProtocolDubbo:
		return "Dubbo"
	case L7ProtocolMySQL:
		return "MySQL"
	case L7ProtocolRedis:
		return "Redis"
	case L7ProtocolKafka:
		return "Kafka"
	case L7ProtocolMQTT:
		return "MQTT"
	case L7ProtocolDNS:
		return "DNS"
	default:
		return "Unknown"
	}
}

// CloseType records why a flow's entry in the aggregator was finalized.
// These values are persisted in audit records and must never be
// renumbered; they mirror flow.rs's CloseType wire codes exactly.
type CloseType uint8

const (
	CloseTypeUnknown               CloseType = 0
	CloseTypeTCPFIN                CloseType = 1
	CloseTypeTCPServerRst          CloseType = 2
	CloseTypeTimeout               CloseType = 3
	CloseTypeForcedReport          CloseType = 5
	CloseTypeClientSYNRepeat       CloseType = 7
	CloseTypeServerHalfClose       CloseType = 8
	CloseTypeTCPClientRst          CloseType = 9
	CloseTypeServerSYNAckRepeat    CloseType = 10
	CloseTypeClientHalfClose       CloseType = 11
	CloseTypeClientSourcePortReuse CloseType = 13
	CloseTypeServerReset           CloseType = 15
	CloseTypeServerQueueLack       CloseType = 17
	CloseTypeClientEstablishReset  CloseType = 18
	CloseTypeServerEstablishReset  CloseType = 19
)

// clientErrorCloseTypes / serverErrorCloseTypes classify which side a
// given abnormal CloseType is attributed to, mirroring flow.rs's
// is_client_error/is_server_error grouping.
var clientErrorCloseTypes = map[CloseType]bool{
	CloseTypeClientSYNRepeat:       true,
	CloseTypeTCPClientRst:          true,
	CloseTypeClientHalfClose:       true,
	CloseTypeClientSourcePortReuse: true,
	CloseTypeClientEstablishReset:  true,
}

var serverErrorCloseTypes = map[CloseType]bool{
	CloseTypeTCPServerRst:         true,
	CloseTypeTimeout:              true,
	CloseTypeServerHalfClose:      true,
	CloseTypeServerSYNAckRepeat:   true,
	CloseTypeServerReset:          true,
	CloseTypeServerQueueLack:      true,
	CloseTypeServerEstablishReset: true,
}

func (c CloseType) IsClientError() bool { return clientErrorCloseTypes[c] }
func (c CloseType) IsServerError() bool { return serverErrorCloseTypes[c] }

// TapType identifies the logical capture point a packet entered the
// pipeline through (physical NIC, a cloud gateway mirror, etc).
type TapType uint8

const (
	TapTypeAny TapType = iota
	TapTypeCloud
	TapTypeIDC
)

// FlowSource identifies what produced a Flow: the packet pipeline itself,
// or an eBPF socket-trace producer feeding L7 data directly.
type FlowSource uint8

const (
	FlowSourceNormal FlowSource = iota
	FlowSourceSFlow
	FlowSourceEBPF
)

// TapSide records which side of a flow the observing agent sits on.
type TapSide uint8

const (
	TapSideRest TapSide = iota
	TapSideClient
	TapSideServer
	TapSideLocal
)

// SignalSource distinguishes packets captured off the wire from flow
// events synthesized by an eBPF uprobe/socket-trace collector.
type SignalSource uint8

const (
	SignalSourcePacket SignalSource = iota
	SignalSourceEBPF
)

// L7ResponseStatus classifies the outcome of a parsed L7 transaction.
type L7ResponseStatus uint8

const (
	L7ResponseStatusOk L7ResponseStatus = iota
	L7ResponseStatusError
	L7ResponseStatusNotExist
	L7ResponseStatusServerError
	L7ResponseStatusClientError
	L7ResponseStatusTimeout
)

// LogMessageType classifies which half of an L7 transaction a parsed
// record represents.
type LogMessageType uint8

const (
	LogMessageTypeOther LogMessageType = iota
	LogMessageTypeRequest
	LogMessageTypeResponse
	LogMessageTypeSession
	LogMessageTypeMax
)

// PacketDirection is the direction a packet travelled relative to the
// flow's original SYN initiator.
type PacketDirection uint8

const (
	DirectionClientToServer PacketDirection = iota
	DirectionServerToClient
)

// MessageType maps the packet direction to the log message type it
// implies when no richer classification is available.
func (d PacketDirection) MessageType() LogMessageType {
	if d == DirectionServerToClient {
		return LogMessageTypeResponse
	}

	return LogMessageTypeRequest
}
