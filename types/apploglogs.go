package types

import "time"

// AppProtoHead carries the L7 classification and outcome for one parsed
// transaction.
type AppProtoHead struct {
	Proto   L7Protocol       `protobuf:"varint,1,opt" json:"proto"`
	MsgType LogMessageType   `protobuf:"varint,2,opt" json:"msg_type"`
	Status  L7ResponseStatus `protobuf:"varint,3,opt" json:"status"`
	Code    uint16           `protobuf:"varint,4,opt" json:"code"`
	RRT     uint64           `protobuf:"varint,5,opt" json:"rrt"`
	Version uint8            `protobuf:"varint,6,opt" json:"version"`
}

// AppProtoLogsBaseInfo is the transport/flow context shared by every L7
// protocol log, independent of the protocol-specific payload.
type AppProtoLogsBaseInfo struct {
	StartTime time.Duration `protobuf:"varint,1,opt" json:"start_time"`
	EndTime   time.Duration `protobuf:"varint,2,opt" json:"end_time"`
	FlowID    uint64        `protobuf:"varint,3,opt" json:"flow_id"`
	VtapID    uint16        `protobuf:"varint,4,opt" json:"vtap_id"`
	TapType   TapType       `protobuf:"varint,5,opt" json:"tap_type"`
	TapSide   TapSide       `protobuf:"varint,6,opt" json:"tap_side"`
	IsIPv6    bool          `protobuf:"varint,7,opt" json:"is_ipv6"`
	MACSrc    uint64        `protobuf:"varint,8,opt" json:"mac_src"`
	MACDst    uint64        `protobuf:"varint,9,opt" json:"mac_dst"`
	IPSrc     string        `protobuf:"bytes,10,opt" json:"ip_src"`
	IPDst     string        `protobuf:"bytes,11,opt" json:"ip_dst"`
	L3EpcIDSrc int32        `protobuf:"zigzag32,12,opt" json:"l3_epc_id_src"`
	L3EpcIDDst int32        `protobuf:"zigzag32,13,opt" json:"l3_epc_id_dst"`
	PortSrc   uint16        `protobuf:"varint,14,opt" json:"port_src"`
	PortDst   uint16        `protobuf:"varint,15,opt" json:"port_dst"`
	ReqTCPSeq  uint32       `protobuf:"varint,16,opt" json:"req_tcp_seq"`
	RespTCPSeq uint32       `protobuf:"varint,17,opt" json:"resp_tcp_seq"`
	ProcessID0 uint32       `protobuf:"varint,18,opt" json:"process_id_0"`
	ProcessID1 uint32       `protobuf:"varint,19,opt" json:"process_id_1"`
	ProcessKname0 string    `protobuf:"bytes,20,opt" json:"process_kname_0"`
	ProcessKname1 string    `protobuf:"bytes,21,opt" json:"process_kname_1"`
	SyscallTraceIDRequest  uint64 `protobuf:"varint,22,opt" json:"syscall_trace_id_request"`
	SyscallTraceIDResponse uint64 `protobuf:"varint,23,opt" json:"syscall_trace_id_response"`
	SyscallTraceIDThread0  uint32 `protobuf:"varint,24,opt" json:"syscall_trace_id_thread_0"`
	SyscallTraceIDThread1  uint32 `protobuf:"varint,25,opt" json:"syscall_trace_id_thread_1"`
	SyscallCapSeq0 uint32  `protobuf:"varint,26,opt" json:"syscall_cap_seq_0"`
	SyscallCapSeq1 uint32  `protobuf:"varint,27,opt" json:"syscall_cap_seq_1"`
	Protocol       L4Protocol `protobuf:"varint,28,opt" json:"protocol"`
	IsVIPInterfaceSrc bool `protobuf:"varint,29,opt" json:"is_vip_interface_src"`
	IsVIPInterfaceDst bool `protobuf:"varint,30,opt" json:"is_vip_interface_dst"`
	Head AppProtoHead `protobuf:"bytes,31,opt" json:"head"`
}

// FromEBPF populates base info from an eBPF-sourced half-transaction,
// swapping the src/dst view when the direction is server-to-client —
// grounded on mod.rs's AppProtoLogsBaseInfo::from_ebpf.
func (b *AppProtoLogsBaseInfo) FromEBPF(dir PacketDirection) {
	if dir == DirectionServerToClient {
		b.MACSrc, b.MACDst = b.MACDst, b.MACSrc
		b.IPSrc, b.IPDst = b.IPDst, b.IPSrc
		b.L3EpcIDSrc, b.L3EpcIDDst = b.L3EpcIDDst, b.L3EpcIDSrc
		b.PortSrc, b.PortDst = b.PortDst, b.PortSrc
		b.IsVIPInterfaceSrc, b.IsVIPInterfaceDst = b.IsVIPInterfaceDst, b.IsVIPInterfaceSrc
	}
}

// Merge folds a later half of a session into this base info, grounded on
// mod.rs's AppProtoLogsBaseInfo::merge.
func (b *AppProtoLogsBaseInfo) Merge(other *AppProtoLogsBaseInfo) {
	if other.ProcessID0 > 0 {
		b.ProcessID0 = other.ProcessID0
		b.ProcessKname0 = other.ProcessKname0
	}
	if other.ProcessID1 > 0 {
		b.ProcessID1 = other.ProcessID1
		b.ProcessKname1 = other.ProcessKname1
	}

	b.SyscallTraceIDThread1 = other.SyscallTraceIDThread1
	b.SyscallCapSeq1 = other.SyscallCapSeq1

	if other.EndTime > b.EndTime {
		b.EndTime = other.EndTime
	}

	b.RespTCPSeq = other.RespTCPSeq
	b.SyscallTraceIDResponse = other.SyscallTraceIDResponse

	b.Head.MsgType = LogMessageTypeSession
	b.Head.Code = other.Head.Code
	b.Head.Status = other.Head.Status
	b.Head.RRT = other.Head.RRT
}

// SessionIdentifiable is implemented by protocol-specific payloads that
// carry their own application-level transaction identifier (DNS
// transaction id, Kafka correlation id, HTTP/2 stream id, ...).
type SessionIdentifiable interface {
	SessionID() (id uint32, ok bool)
}

// EBPFSessionID derives the session pairing key for an eBPF-sourced half
// transaction, grounded on mod.rs's ebpf_flow_session_id.
//
// flowIDPart keeps the top byte of the 64-bit flow id in bits 56-63 and
// moves its low 24 bits up to bits 32-55 (`(flow_id >> 56 << 56) |
// (flow_id << 40 >> 8)` in the source), leaving the low 32 bits clear so
// the protocol tag (bits 24-31) and session id (bits 0-23) can be packed
// in without colliding with the flow id's own identifying bits.
func EBPFSessionID(flowID uint64, proto L7Protocol, msgType LogMessageType, special SessionIdentifiable, capSeq0, capSeq1 uint32) uint64 {
	flowIDPart := (flowID >> 56 << 56) | (flowID << 40 >> 8)

	if special != nil {
		if sessionID, ok := special.SessionID(); ok {
			return flowIDPart | uint64(proto)<<24 | (uint64(sessionID) & 0xffffff)
		}
	}

	capSeq := capSeq0
	if capSeq1 > capSeq {
		capSeq = capSeq1
	}
	if msgType == LogMessageTypeRequest {
		capSeq++
	}

	return flowIDPart | uint64(proto)<<24 | (uint64(capSeq) & 0xffffff)
}

// AppProtoLogsData pairs the shared base info with a protocol-specific
// payload for wire transmission.
type AppProtoLogsData struct {
	BaseInfo     AppProtoLogsBaseInfo `protobuf:"bytes,1,opt" json:"base_info"`
	SpecialInfo  interface{}          `protobuf:"bytes,2,opt" json:"special_info"`
}
