package types

// TunnelField carries the overlay tunnel encapsulation observed for a
// flow, when the capture point sits behind a tunnel decapsulation point
// (VXLAN/GRE/IPIP mirrors).
type TunnelField struct {
	TxIP0, TxIP1 uint32 `protobuf:"fixed32,1,opt" json:"tx_ip"`
	RxIP0, RxIP1 uint32 `protobuf:"fixed32,2,opt" json:"rx_ip"`
	TxID         uint32 `protobuf:"varint,3,opt" json:"tx_id"`
	RxID         uint32 `protobuf:"varint,4,opt" json:"rx_id"`
	Type         uint8  `protobuf:"varint,5,opt" json:"tunnel_type"`
	Tier         uint8  `protobuf:"varint,6,opt" json:"tier"`
	IsIPv6       bool   `protobuf:"varint,7,opt" json:"is_ipv6"`
}

// Reverse swaps the tx/rx view of the tunnel, mirroring FlowKey.Reverse
// when a flow's direction is corrected.
func (t *TunnelField) Reverse() {
	t.TxIP0, t.RxIP0 = t.RxIP0, t.TxIP0
	t.TxIP1, t.RxIP1 = t.RxIP1, t.TxIP1
	t.TxID, t.RxID = t.RxID, t.TxID
}
