package controller

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cyh01/deepflow/controller/rpc"
)

// ntpMode mirrors the two modes this client cares about from the NTP
// mode field, grounded on rpc/ntp.rs's NtpMode.
type ntpMode uint8

const (
	ntpModeClient ntpMode = 3
	ntpModeServer ntpMode = 4
)

// ntpPacket is this agent's internal NTP-like handshake payload,
// carried inside an rpc.NtpRequest/NtpResponse rather than a raw UDP
// port-123 datagram (the controller relays it over the existing sync
// channel instead of exposing NTP itself).
type ntpPacket struct {
	Mode   ntpMode
	TsOrig uint64
	TsRecv uint64
	TsXmit uint64
}

const ntpPacketLen = 1 + 8 + 8 + 8

func (p *ntpPacket) marshal() []byte {
	b := make([]byte, ntpPacketLen)
	b[0] = byte(p.Mode)
	binary.BigEndian.PutUint64(b[1:9], p.TsOrig)
	binary.BigEndian.PutUint64(b[9:17], p.TsRecv)
	binary.BigEndian.PutUint64(b[17:25], p.TsXmit)

	return b
}

func unmarshalNTPPacket(b []byte) (*ntpPacket, error) {
	if len(b) < ntpPacketLen {
		return nil, errors.New("ntp: packet too short")
	}

	return &ntpPacket{
		Mode:   ntpMode(b[0]),
		TsOrig: binary.BigEndian.Uint64(b[1:9]),
		TsRecv: binary.BigEndian.Uint64(b[9:17]),
		TsXmit: binary.BigEndian.Uint64(b[17:25]),
	}, nil
}

func toNTPTime(t time.Time) uint64 { return uint64(t.UnixNano()) }

// ntpTransport performs the round trip over the existing sync
// connection; satisfied by rpc.Client.Query.
type ntpTransport func(ctx context.Context, req *rpc.NtpRequest) (*rpc.NtpResponse, error)

// NTPClient periodically estimates the clock offset to the controller
// over the sync channel, grounded on synchronizer.rs's run_ntp_sync.
type NTPClient struct {
	diff atomic.Int64
	rng  *rand.Rand
}

// NewNTPClient seeds the client's random transmit-time generator.
func NewNTPClient(seed int64) *NTPClient {
	return &NTPClient{rng: rand.New(rand.NewSource(seed))}
}

// Diff returns the most recently measured clock offset, truncated to
// whole seconds the way the Rust original stores it.
func (c *NTPClient) Diff() time.Duration {
	return time.Duration(c.diff.Load())
}

// SyncOnce performs one request/response round trip and, if the
// response validates, updates Diff. A validation failure is returned
// as an error for the caller to warn-log and retry later; it never
// panics or aborts the sync loop, matching the original's per-failure
// "warn and continue" behavior.
func (c *NTPClient) SyncOnce(ctx context.Context, query ntpTransport, ctrlIP string) error {
	req := &ntpPacket{Mode: ntpModeClient, TsXmit: c.rng.Uint64()}
	sendTime := time.Now()

	resp, err := query(ctx, &rpc.NtpRequest{CtrlIP: ctrlIP, Request: req.marshal()})
	if err != nil {
		return err
	}
	if len(resp.Response) == 0 {
		return errors.New("ntp: empty response")
	}

	respPacket, err := unmarshalNTPPacket(resp.Response)
	if err != nil {
		return err
	}

	if respPacket.Mode != ntpModeServer {
		return errors.New("ntp: invalid mode in response")
	}
	if respPacket.TsXmit == 0 {
		return errors.New("ntp: invalid transmit time in response")
	}
	if respPacket.TsOrig != req.TsXmit {
		return errors.New("ntp: server response mismatch")
	}
	if respPacket.TsRecv > respPacket.TsXmit {
		return errors.New("ntp: server clock ticked backwards")
	}

	recvTime := time.Now()
	if recvTime.Before(sendTime) {
		return errors.New("ntp: local clock ticked backwards mid-request")
	}

	// Correct the origin timestamp using our own actual send time
	// rather than trusting the echoed value, matching the Rust
	// original's resp_packet.ts_orig reassignment.
	respPacket.TsOrig = toNTPTime(sendTime)

	t1 := int64(respPacket.TsOrig)
	t2 := int64(respPacket.TsRecv)
	t3 := int64(respPacket.TsXmit)
	t4 := int64(toNTPTime(recvTime))

	offset := ((t2 - t1) + (t3 - t4)) / 2
	offset = offset / int64(time.Second) * int64(time.Second)

	c.diff.Store(offset)

	return nil
}

// Run loops SyncOnce at the live configuration's sync interval,
// sleeping retryInterval instead whenever NTP is disabled. A failed sync
// attempt, including one made before the sync channel is connected, is
// followed by the same sync-interval wait as a successful one.
func (c *NTPClient) Run(ctx context.Context, query ntpTransport, ctrlIP func() string, enabled func() bool, syncInterval func() time.Duration, retryInterval time.Duration) {
	for {
		interval := retryInterval

		if enabled() {
			if err := c.SyncOnce(ctx, query, ctrlIP()); err != nil {
				controllerLog.Warn("ntp sync failed: " + err.Error())
			}

			interval = syncInterval()
		} else {
			c.diff.Store(0)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
