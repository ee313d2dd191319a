package types

import "time"

// TcpFlags is an OR-accumulated bitmask of every TCP flag byte observed
// for one side of a flow.
type TcpFlags uint16

// FlowMetricsPeer holds per-direction counters and host-classification
// flags for one side of a Flow.
type FlowMetricsPeer struct {
	NATRealIP        string   `protobuf:"bytes,1,opt" json:"nat_real_ip"`
	ByteCount        uint64   `protobuf:"varint,2,opt" json:"byte_count"`
	L3ByteCount      uint64   `protobuf:"varint,3,opt" json:"l3_byte_count"`
	L4ByteCount      uint64   `protobuf:"varint,4,opt" json:"l4_byte_count"`
	PacketCount      uint64   `protobuf:"varint,5,opt" json:"packet_count"`
	TotalByteCount   uint64   `protobuf:"varint,6,opt" json:"total_byte_count"`
	TotalPacketCount uint64   `protobuf:"varint,7,opt" json:"total_packet_count"`
	First            time.Duration `protobuf:"varint,8,opt" json:"first"`
	Last             time.Duration `protobuf:"varint,9,opt" json:"last"`
	L3EpcID          int32    `protobuf:"zigzag32,10,opt" json:"l3_epc_id"`
	IsL2End          bool     `protobuf:"varint,11,opt" json:"is_l2_end"`
	IsL3End          bool     `protobuf:"varint,12,opt" json:"is_l3_end"`
	IsActiveHost     bool     `protobuf:"varint,13,opt" json:"is_active_host"`
	IsDevice         bool     `protobuf:"varint,14,opt" json:"is_device"`
	TcpFlags         TcpFlags `protobuf:"varint,15,opt" json:"tcp_flags"`
	IsVIPInterface   bool     `protobuf:"varint,16,opt" json:"is_vip_interface"`
	IsVIP            bool     `protobuf:"varint,17,opt" json:"is_vip"`
	IsLocalMac       bool     `protobuf:"varint,18,opt" json:"is_local_mac"`
	IsLocalIP        bool     `protobuf:"varint,19,opt" json:"is_local_ip"`
}

// SequentialMerge folds a later observation of the same peer into this
// one. Byte/packet counters are summed, TcpFlags OR'd, First/Last always
// take the incoming value, and the host-classification booleans and
// L3EpcID are overwritten outright (the latest observation wins, it is
// not an OR) — grounded on flow.rs's FlowMetricsPeer::sequential_merge.
func (p *FlowMetricsPeer) SequentialMerge(other *FlowMetricsPeer) {
	p.ByteCount += other.ByteCount
	p.L3ByteCount += other.L3ByteCount
	p.L4ByteCount += other.L4ByteCount
	p.PacketCount += other.PacketCount
	p.TotalByteCount += other.TotalByteCount
	p.TotalPacketCount += other.TotalPacketCount

	p.First = other.First
	p.Last = other.Last

	p.L3EpcID = other.L3EpcID
	p.IsL2End = other.IsL2End
	p.IsL3End = other.IsL3End
	p.IsActiveHost = other.IsActiveHost
	p.IsDevice = other.IsDevice
	p.IsVIPInterface = other.IsVIPInterface
	p.IsVIP = other.IsVIP
	p.IsLocalMac = other.IsLocalMac
	p.IsLocalIP = other.IsLocalIP

	p.TcpFlags |= other.TcpFlags

	if other.NATRealIP != "" {
		p.NATRealIP = other.NATRealIP
	}
}
