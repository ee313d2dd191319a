package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// service is the fully-qualified grpc service name the controller
// exposes, matching the path segment rpc::synchronizer_client's
// generated stub would dial.
const service = "trident.Synchronizer"

// Client is a thin wrapper over a grpc connection that invokes the
// Synchronizer service's four RPCs without a protoc-generated stub,
// using ClientConn.Invoke/NewStream directly against the gogoproto
// codec registered in codec.go.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an already-dialed connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(Name)}
}

// Sync reports identity/version and receives the controller's current
// runtime configuration.
func (c *Client) Sync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	resp := new(SyncResponse)
	if err := c.cc.Invoke(ctx, "/"+service+"/Sync", req, resp, c.callOpts()...); err != nil {
		return nil, err
	}

	return resp, nil
}

// Query performs an out-of-band NTP round trip through the sync
// channel, grounded on run_ntp_sync's client.query call.
func (c *Client) Query(ctx context.Context, req *NtpRequest) (*NtpResponse, error) {
	resp := new(NtpResponse)
	if err := c.cc.Invoke(ctx, "/"+service+"/Query", req, resp, c.callOpts()...); err != nil {
		return nil, err
	}

	return resp, nil
}

// Push opens the controller's streaming platform-data subscription.
func (c *Client) Push(ctx context.Context, req *PushRequest) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: "Push", ServerStreams: true}
	stream, err := c.cc.NewStream(ctx, desc, "/"+service+"/Push", c.callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	return stream, nil
}

// Upgrade opens the controller's binary-streaming response, grounded
// on Synchronizer::upgrade's client.upgrade call.
func (c *Client) Upgrade(ctx context.Context, req *UpgradeRequest) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: "Upgrade", ServerStreams: true}
	stream, err := c.cc.NewStream(ctx, desc, "/"+service+"/Upgrade", c.callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	return stream, nil
}
