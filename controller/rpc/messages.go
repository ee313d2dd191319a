package rpc

import "fmt"

// SyncRequest reports the agent's identity and current config hash to
// the controller, grounded on tp::SyncRequest in synchronizer.rs.
type SyncRequest struct {
	CtrlIP      string `protobuf:"bytes,1,opt,name=ctrl_ip" json:"ctrl_ip"`
	CtrlMac     string `protobuf:"bytes,2,opt,name=ctrl_mac" json:"ctrl_mac"`
	BootTime    uint32 `protobuf:"varint,3,opt,name=boot_time" json:"boot_time"`
	VersionHash uint64 `protobuf:"varint,4,opt,name=version_hash" json:"version_hash"`
	Revision    string `protobuf:"bytes,5,opt,name=revision" json:"revision"`
}

func (m *SyncRequest) Reset()         { *m = SyncRequest{} }
func (m *SyncRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *SyncRequest) ProtoMessage()  {}

// SyncResponse carries the controller's runtime configuration push,
// grounded on tp::SyncResponse.
type SyncResponse struct {
	ConfigHash      string `protobuf:"bytes,1,opt,name=config_hash" json:"config_hash"`
	L4LogCollectNPS uint64 `protobuf:"varint,2,opt,name=l4_log_collect_nps" json:"l4_log_collect_nps"`
	SyncIntervalSec uint32 `protobuf:"varint,3,opt,name=sync_interval" json:"sync_interval"`
	NTPEnabled      bool   `protobuf:"varint,4,opt,name=ntp_enabled" json:"ntp_enabled"`
	EscapeTimeSec   uint32 `protobuf:"varint,5,opt,name=escape_time" json:"escape_time"`
	Revision        string `protobuf:"bytes,6,opt,name=revision" json:"revision"`
}

func (m *SyncResponse) Reset()         { *m = SyncResponse{} }
func (m *SyncResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (m *SyncResponse) ProtoMessage()  {}

// PushRequest subscribes to the controller's streaming platform-data
// push, grounded on tp::PushRequest.
type PushRequest struct {
	CtrlIP  string `protobuf:"bytes,1,opt,name=ctrl_ip" json:"ctrl_ip"`
	CtrlMac string `protobuf:"bytes,2,opt,name=ctrl_mac" json:"ctrl_mac"`
}

func (m *PushRequest) Reset()         { *m = PushRequest{} }
func (m *PushRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *PushRequest) ProtoMessage()  {}

// PushResponse is one message of the controller's platform-data stream.
type PushResponse struct {
	Version uint64 `protobuf:"varint,1,opt,name=version" json:"version"`
}

func (m *PushResponse) Reset()         { *m = PushResponse{} }
func (m *PushResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (m *PushResponse) ProtoMessage()  {}

// NtpRequest carries a serialized NTP client packet over the sync
// channel instead of opening a raw UDP 123 socket, grounded on
// run_ntp_sync's tp::NtpRequest.
type NtpRequest struct {
	CtrlIP  string `protobuf:"bytes,1,opt,name=ctrl_ip" json:"ctrl_ip"`
	Request []byte `protobuf:"bytes,2,opt,name=request" json:"request"`
}

func (m *NtpRequest) Reset()         { *m = NtpRequest{} }
func (m *NtpRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *NtpRequest) ProtoMessage()  {}

// NtpResponse carries the controller's serialized NTP server packet.
type NtpResponse struct {
	Response []byte `protobuf:"bytes,1,opt,name=response" json:"response"`
}

func (m *NtpResponse) Reset()         { *m = NtpResponse{} }
func (m *NtpResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (m *NtpResponse) ProtoMessage()  {}

// UpgradeRequest announces the agent's control identity before the
// controller starts streaming a new binary, grounded on
// tp::UpgradeRequest.
type UpgradeRequest struct {
	CtrlIP  string `protobuf:"bytes,1,opt,name=ctrl_ip" json:"ctrl_ip"`
	CtrlMac string `protobuf:"bytes,2,opt,name=ctrl_mac" json:"ctrl_mac"`
}

func (m *UpgradeRequest) Reset()         { *m = UpgradeRequest{} }
func (m *UpgradeRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *UpgradeRequest) ProtoMessage()  {}

// UpgradeStatus mirrors tp::Status's two-value success/fail enum.
type UpgradeStatus int32

const (
	UpgradeStatusSuccess UpgradeStatus = 0
	UpgradeStatusFailed  UpgradeStatus = 1
)

// UpgradeChunk is one message of the controller's binary-streaming
// response. The first chunk of a stream carries Md5/TotalLen/PktCount;
// every chunk carries a slice of the binary's content.
type UpgradeChunk struct {
	Status   UpgradeStatus `protobuf:"varint,1,opt,name=status" json:"status"`
	Md5      string        `protobuf:"bytes,2,opt,name=md5" json:"md5"`
	TotalLen uint64        `protobuf:"varint,3,opt,name=total_len" json:"total_len"`
	PktCount uint32        `protobuf:"varint,4,opt,name=pkt_count" json:"pkt_count"`
	Content  []byte        `protobuf:"bytes,5,opt,name=content" json:"content"`
}

func (m *UpgradeChunk) Reset()         { *m = UpgradeChunk{} }
func (m *UpgradeChunk) String() string { return fmt.Sprintf("%+v", *m) }
func (m *UpgradeChunk) ProtoMessage()  {}

// QueryRequest asks the controller for an on-demand config refresh
// outside the normal sync cadence, grounded on tp::QueryRequest.
type QueryRequest struct {
	CtrlIP string `protobuf:"bytes,1,opt,name=ctrl_ip" json:"ctrl_ip"`
}

func (m *QueryRequest) Reset()         { *m = QueryRequest{} }
func (m *QueryRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *QueryRequest) ProtoMessage()  {}

// QueryResponse carries the same config payload shape as SyncResponse.
type QueryResponse struct {
	SyncResponse
}

func (m *QueryResponse) Reset()         { *m = QueryResponse{} }
func (m *QueryResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (m *QueryResponse) ProtoMessage()  {}
