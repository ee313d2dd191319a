package types

// TcpPerfCountsPeer holds TCP quality counters for one side of a flow.
type TcpPerfCountsPeer struct {
	RetransCount uint32 `protobuf:"varint,1,opt" json:"retrans_count"`
	ZeroWinCount uint32 `protobuf:"varint,2,opt" json:"zero_win_count"`
}

// SequentialMerge sums both sides' counters, matching flow.rs's
// TcpPerfCountsPeer sequential_merge (both fields are monotonic counts
// accumulated across the reporting window, never max/overwrite).
func (p *TcpPerfCountsPeer) SequentialMerge(other *TcpPerfCountsPeer) {
	p.RetransCount += other.RetransCount
	p.ZeroWinCount += other.ZeroWinCount
}

// TcpPerfStats carries round-trip and retransmission quality metrics
// derived from TCP sequence/ack tracking.
type TcpPerfStats struct {
	RTTClientMax uint32            `protobuf:"varint,1,opt" json:"rtt_client_max"`
	RTTServerMax uint32            `protobuf:"varint,2,opt" json:"rtt_server_max"`
	SRT          uint32            `protobuf:"varint,3,opt" json:"srt"`
	SRTCount     uint32            `protobuf:"varint,4,opt" json:"srt_count"`
	SRTMax       uint32            `protobuf:"varint,5,opt" json:"srt_max"`
	ART          uint32            `protobuf:"varint,6,opt" json:"art"`
	ARTCount     uint32            `protobuf:"varint,7,opt" json:"art_count"`
	ARTMax       uint32            `protobuf:"varint,8,opt" json:"art_max"`
	CountsPeerSrc TcpPerfCountsPeer `protobuf:"bytes,9,opt" json:"counts_peer_src"`
	CountsPeerDst TcpPerfCountsPeer `protobuf:"bytes,10,opt" json:"counts_peer_dst"`
	TotalRetransCount uint32       `protobuf:"varint,11,opt" json:"total_retrans_count"`
}

// SequentialMerge combines a later observation into this one. RTT/SRT/ART
// maxima take the larger value; sums and counts they're paired with are
// added, mirroring flow.rs's TcpPerfStats sequential_merge.
func (s *TcpPerfStats) SequentialMerge(other *TcpPerfStats) {
	if other.RTTClientMax > s.RTTClientMax {
		s.RTTClientMax = other.RTTClientMax
	}
	if other.RTTServerMax > s.RTTServerMax {
		s.RTTServerMax = other.RTTServerMax
	}

	s.SRT += other.SRT
	s.SRTCount += other.SRTCount
	if other.SRTMax > s.SRTMax {
		s.SRTMax = other.SRTMax
	}

	s.ART += other.ART
	s.ARTCount += other.ARTCount
	if other.ARTMax > s.ARTMax {
		s.ARTMax = other.ARTMax
	}

	s.CountsPeerSrc.SequentialMerge(&other.CountsPeerSrc)
	s.CountsPeerDst.SequentialMerge(&other.CountsPeerDst)
	s.TotalRetransCount += other.TotalRetransCount
}

// L7PerfStats carries application-layer request/response quality metrics.
type L7PerfStats struct {
	RequestCount   uint32 `protobuf:"varint,1,opt" json:"request_count"`
	ResponseCount  uint32 `protobuf:"varint,2,opt" json:"response_count"`
	ErrClientCount uint32 `protobuf:"varint,3,opt" json:"err_client_count"`
	ErrServerCount uint32 `protobuf:"varint,4,opt" json:"err_server_count"`
	ErrTimeout     uint32 `protobuf:"varint,5,opt" json:"err_timeout"`
	RRTCount       uint32 `protobuf:"varint,6,opt" json:"rrt_count"`
	RRTSum         uint64 `protobuf:"varint,7,opt" json:"rrt_sum"`
	RRTMax         uint32 `protobuf:"varint,8,opt" json:"rrt_max"`
}

// SequentialMerge sums every counter except RRTMax, which takes the
// maximum of the two observations — grounded on flow.rs's L7PerfStats
// sequential_merge.
func (s *L7PerfStats) SequentialMerge(other *L7PerfStats) {
	s.RequestCount += other.RequestCount
	s.ResponseCount += other.ResponseCount
	s.ErrClientCount += other.ErrClientCount
	s.ErrServerCount += other.ErrServerCount
	s.ErrTimeout += other.ErrTimeout
	s.RRTCount += other.RRTCount
	s.RRTSum += other.RRTSum

	if other.RRTMax > s.RRTMax {
		s.RRTMax = other.RRTMax
	}
}

// FlowPerfStats bundles TCP and L7 quality metrics with the protocol
// classification they were measured against.
type FlowPerfStats struct {
	TCP         TcpPerfStats `protobuf:"bytes,1,opt" json:"tcp"`
	L7          L7PerfStats  `protobuf:"bytes,2,opt" json:"l7"`
	L4Protocol  L4Protocol   `protobuf:"varint,3,opt" json:"l4_protocol"`
	L7Protocol  L7Protocol   `protobuf:"varint,4,opt" json:"l7_protocol"`
}

// SequentialMerge merges the TCP/L7 stats and lets a determined protocol
// win over Unknown, matching flow.rs's "latest wins unless unknown" rule
// for the protocol enums.
func (s *FlowPerfStats) SequentialMerge(other *FlowPerfStats) {
	s.TCP.SequentialMerge(&other.TCP)
	s.L7.SequentialMerge(&other.L7)

	if other.L4Protocol != L4ProtocolUnknown {
		s.L4Protocol = other.L4Protocol
	}
	if other.L7Protocol != L7ProtocolUnknown {
		s.L7Protocol = other.L7Protocol
	}
}
