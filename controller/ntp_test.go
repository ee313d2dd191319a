package controller

import (
	"context"
	"testing"
	"time"

	"github.com/cyh01/deepflow/controller/rpc"
)

func TestNTPClientSyncOnceAcceptsValidResponse(t *testing.T) {
	client := NewNTPClient(1)

	transport := func(ctx context.Context, req *rpc.NtpRequest) (*rpc.NtpResponse, error) {
		reqPacket, err := unmarshalNTPPacket(req.Request)
		if err != nil {
			t.Fatalf("failed to parse our own request: %v", err)
		}

		resp := &ntpPacket{
			Mode:   ntpModeServer,
			TsOrig: reqPacket.TsXmit,
			TsRecv: toNTPTime(time.Now()),
			TsXmit: toNTPTime(time.Now()),
		}

		return &rpc.NtpResponse{Response: resp.marshal()}, nil
	}

	if err := client.SyncOnce(context.Background(), transport, "10.0.0.1"); err != nil {
		t.Fatalf("expected a valid response to be accepted, got %v", err)
	}
}

func TestNTPClientRejectsWrongMode(t *testing.T) {
	client := NewNTPClient(2)

	transport := func(ctx context.Context, req *rpc.NtpRequest) (*rpc.NtpResponse, error) {
		reqPacket, _ := unmarshalNTPPacket(req.Request)
		resp := &ntpPacket{
			Mode:   ntpModeClient, // wrong: should be server
			TsOrig: reqPacket.TsXmit,
			TsRecv: toNTPTime(time.Now()),
			TsXmit: toNTPTime(time.Now()),
		}

		return &rpc.NtpResponse{Response: resp.marshal()}, nil
	}

	if err := client.SyncOnce(context.Background(), transport, "10.0.0.1"); err == nil {
		t.Fatalf("expected a server-mode violation to be rejected")
	}
}

func TestNTPClientRejectsMismatchedOrigin(t *testing.T) {
	client := NewNTPClient(3)

	transport := func(ctx context.Context, req *rpc.NtpRequest) (*rpc.NtpResponse, error) {
		resp := &ntpPacket{
			Mode:   ntpModeServer,
			TsOrig: 0xdeadbeef, // doesn't match what we sent
			TsRecv: toNTPTime(time.Now()),
			TsXmit: toNTPTime(time.Now()),
		}

		return &rpc.NtpResponse{Response: resp.marshal()}, nil
	}

	if err := client.SyncOnce(context.Background(), transport, "10.0.0.1"); err == nil {
		t.Fatalf("expected a mismatched origin timestamp to be rejected")
	}
}

func TestNTPClientRejectsBackwardsServerClock(t *testing.T) {
	client := NewNTPClient(4)

	transport := func(ctx context.Context, req *rpc.NtpRequest) (*rpc.NtpResponse, error) {
		reqPacket, _ := unmarshalNTPPacket(req.Request)
		resp := &ntpPacket{
			Mode:   ntpModeServer,
			TsOrig: reqPacket.TsXmit,
			TsRecv: 1000,
			TsXmit: 500, // recv > xmit: server clock ticked backwards
		}

		return &rpc.NtpResponse{Response: resp.marshal()}, nil
	}

	if err := client.SyncOnce(context.Background(), transport, "10.0.0.1"); err == nil {
		t.Fatalf("expected a backwards server clock to be rejected")
	}
}
