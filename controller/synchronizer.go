// Package controller implements the agent's control-plane loop: it
// periodically syncs runtime configuration from a controller over
// grpc, estimates clock offset via an NTP round trip carried on the
// same channel, restarts the process if the controller stays
// unreachable too long, and can self-upgrade its own binary. Grounded
// on rpc/synchronizer.rs.
package controller

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cyh01/deepflow/config"
	"github.com/cyh01/deepflow/controller/rpc"
	"github.com/cyh01/deepflow/defaults"
	"github.com/cyh01/deepflow/logging"
)

var controllerLog = logging.Named("controller")

// syncClient is the subset of rpc.Client's methods the sync loop and
// upgrader depend on, narrowed to an interface so tests can supply a
// fake instead of dialing a real grpc connection.
type syncClient interface {
	Sync(ctx context.Context, req *rpc.SyncRequest) (*rpc.SyncResponse, error)
	Query(ctx context.Context, req *rpc.NtpRequest) (*rpc.NtpResponse, error)
	Upgrade(ctx context.Context, req *rpc.UpgradeRequest) (grpc.ClientStream, error)
}

// Identity is this agent's control-plane identity, sent with every
// Sync/Upgrade/Query request.
type Identity struct {
	CtrlIP   string
	CtrlMac  string
	BootTime uint32
	Revision string
}

// Synchronizer owns the grpc connection to a controller and runs the
// periodic sync/NTP/escape-timer loops, grounded on
// rpc::Synchronizer.
type Synchronizer struct {
	identity Identity

	mu  sync.RWMutex
	cc  *grpc.ClientConn
	rpc syncClient

	escape *EscapeTimer
	ntp    *NTPClient
}

// NewSynchronizer constructs a Synchronizer that will dial controllers
// lazily as Connect is called. exit overrides the escape timer's
// restart hook (nil defaults to os.Exit).
func NewSynchronizer(identity Identity, exit func(code int)) *Synchronizer {
	if exit == nil {
		exit = os.Exit
	}

	return &Synchronizer{
		identity: identity,
		escape:   NewEscapeTimer(exit),
		ntp:      NewNTPClient(time.Now().UnixNano()),
	}
}

// Connect (re)dials addr, replacing any existing connection.
func (s *Synchronizer) Connect(addr string) error {
	cc, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.Name)),
	)
	if err != nil {
		return fmt.Errorf("controller: dial %s: %w", addr, err)
	}

	s.mu.Lock()
	old := s.cc
	s.cc = cc
	s.rpc = rpc.NewClient(cc)
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	return nil
}

func (s *Synchronizer) client() syncClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rpc
}

// Close releases the underlying connection.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cc == nil {
		return nil
	}

	return s.cc.Close()
}

// syncOnce performs one Sync RPC, applying the returned configuration
// as the new live config.Snapshot and resetting the escape timer,
// grounded on the per-iteration body of Synchronizer::run.
func (s *Synchronizer) syncOnce(ctx context.Context) error {
	client := s.client()
	if client == nil {
		return fmt.Errorf("controller: not connected")
	}

	resp, err := client.Sync(ctx, &rpc.SyncRequest{
		CtrlIP:   s.identity.CtrlIP,
		CtrlMac:  s.identity.CtrlMac,
		BootTime: s.identity.BootTime,
		Revision: s.identity.Revision,
	})
	if err != nil {
		return err
	}

	prev := config.Load()
	config.Store(&config.Snapshot{
		Version:         prev.Version + 1,
		L4LogCollectNPS: resp.L4LogCollectNPS,
		ConnTimeout:     prev.ConnTimeout,
		SyncInterval:    time.Duration(resp.SyncIntervalSec) * time.Second,
		NTPEnabled:      resp.NTPEnabled,
		EscapeTime:      time.Duration(resp.EscapeTimeSec) * time.Second,
		ExportMetrics:   prev.ExportMetrics,
	})

	s.escape.Reset(time.Duration(resp.EscapeTimeSec) * time.Second)

	return nil
}

// Run drives the sync loop, the escape timer, and the NTP client
// concurrently until ctx is cancelled, grounded on
// Synchronizer::run/run_escape_timer/run_ntp_sync running as sibling
// tokio tasks off the same struct.
func (s *Synchronizer) Run(ctx context.Context) {
	go s.escape.Run(ctx)

	go s.ntp.Run(ctx,
		func(ctx context.Context, req *rpc.NtpRequest) (*rpc.NtpResponse, error) {
			client := s.client()
			if client == nil {
				return nil, fmt.Errorf("controller: not connected")
			}

			return client.Query(ctx, req)
		},
		func() string { return s.identity.CtrlIP },
		func() bool { return config.Load().NTPEnabled },
		func() time.Duration { return config.Load().SyncInterval },
		defaults.RPCRetryInterval,
	)

	for {
		interval := defaults.RPCRetryInterval
		if err := s.syncOnce(ctx); err != nil {
			controllerLog.Warn("sync failed: " + err.Error())
		} else {
			interval = config.Load().SyncInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// NTPDiff exposes the synchronizer's last measured clock offset.
func (s *Synchronizer) NTPDiff() time.Duration {
	return s.ntp.Diff()
}

// Upgrade streams and installs the binary the controller offers for
// newRevision, replacing this process's own executable (binaryPath
// empty resolves it via os.Executable). Callers should exit with
// defaults.NormalExitWithRestart once this returns nil.
func (s *Synchronizer) Upgrade(ctx context.Context, newRevision, binaryPath string) error {
	client := s.client()
	if client == nil {
		return fmt.Errorf("controller: not connected")
	}

	u, err := NewUpgrader(client, binaryPath)
	if err != nil {
		return err
	}

	return u.Upgrade(ctx, s.identity, newRevision)
}
