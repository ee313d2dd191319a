package controller

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/cyh01/deepflow/controller/rpc"
)

// fakeClientStream feeds a canned sequence of *rpc.UpgradeChunk values
// to RecvMsg, implementing grpc.ClientStream just enough for
// Upgrader.Upgrade to drive it.
type fakeClientStream struct {
	chunks []*rpc.UpgradeChunk
	i      int
}

func (f *fakeClientStream) Header() (metadata.MD, error) { return nil, nil }
func (f *fakeClientStream) Trailer() metadata.MD         { return nil }
func (f *fakeClientStream) CloseSend() error             { return nil }
func (f *fakeClientStream) Context() context.Context     { return context.Background() }
func (f *fakeClientStream) SendMsg(m interface{}) error  { return nil }

func (f *fakeClientStream) RecvMsg(m interface{}) error {
	if f.i >= len(f.chunks) {
		return io.EOF
	}

	chunk := m.(*rpc.UpgradeChunk)
	*chunk = *f.chunks[f.i]
	f.i++

	return nil
}

// fakeSyncClient implements syncClient, returning a canned stream from
// Upgrade and nil values from the methods this test doesn't exercise.
type fakeSyncClient struct {
	stream grpc.ClientStream
}

func (f *fakeSyncClient) Sync(context.Context, *rpc.SyncRequest) (*rpc.SyncResponse, error) {
	return nil, nil
}

func (f *fakeSyncClient) Query(context.Context, *rpc.NtpRequest) (*rpc.NtpResponse, error) {
	return nil, nil
}

func (f *fakeSyncClient) Upgrade(context.Context, *rpc.UpgradeRequest) (grpc.ClientStream, error) {
	return f.stream, nil
}

func buildChunks(t *testing.T, content []byte, chunkSize int) []*rpc.UpgradeChunk {
	t.Helper()

	sum := md5.Sum(content)
	md5Hex := hex.EncodeToString(sum[:])

	var chunks []*rpc.UpgradeChunk
	for i := 0; i < len(content); i += chunkSize {
		end := i + chunkSize
		if end > len(content) {
			end = len(content)
		}

		chunks = append(chunks, &rpc.UpgradeChunk{
			Status:   rpc.UpgradeStatusSuccess,
			Md5:      md5Hex,
			TotalLen: uint64(len(content)),
			PktCount: uint32((len(content) + chunkSize - 1) / chunkSize),
			Content:  content[i:end],
		})
	}

	return chunks
}

func TestUpgraderInstallsNewBinary(t *testing.T) {
	dir := t.TempDir()
	binaryPath := filepath.Join(dir, "agent")

	if err := os.WriteFile(binaryPath, []byte("old binary"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	newContent := []byte("#!/bin/sh\necho v2.0.0\n")
	chunks := buildChunks(t, newContent, 8)

	client := &fakeSyncClient{stream: &fakeClientStream{chunks: chunks}}

	u, err := NewUpgrader(client, binaryPath)
	if err != nil {
		t.Fatalf("NewUpgrader: %v", err)
	}

	// Upgrade execs the staged temp binary with -v and checks its stdout
	// prefix; point it at a script that prints the target revision.
	err = u.Upgrade(context.Background(), Identity{CtrlIP: "10.0.0.1", CtrlMac: "aa:bb"}, "v2.0.0")
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}

	installed, err := os.ReadFile(binaryPath)
	if err != nil {
		t.Fatalf("reading installed binary: %v", err)
	}
	if string(installed) != string(newContent) {
		t.Fatalf("installed binary content mismatch")
	}

	if _, err := os.Stat(binaryPath + ".bak"); !os.IsNotExist(err) {
		t.Fatalf("expected the backup file to be removed after a successful upgrade")
	}
	if _, err := os.Stat(binaryPath + ".test"); !os.IsNotExist(err) {
		t.Fatalf("expected the temp file to be renamed away after a successful upgrade")
	}
}

func TestUpgraderRejectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	binaryPath := filepath.Join(dir, "agent")

	if err := os.WriteFile(binaryPath, []byte("old binary"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	chunks := []*rpc.UpgradeChunk{{
		Status:   rpc.UpgradeStatusSuccess,
		Md5:      "0000000000000000000000000000000",
		TotalLen: 4,
		PktCount: 1,
		Content:  []byte("abcd"),
	}}

	client := &fakeSyncClient{stream: &fakeClientStream{chunks: chunks}}

	u, err := NewUpgrader(client, binaryPath)
	if err != nil {
		t.Fatalf("NewUpgrader: %v", err)
	}

	if err := u.Upgrade(context.Background(), Identity{}, "v2.0.0"); err == nil {
		t.Fatalf("expected checksum mismatch to be rejected")
	}

	installed, _ := os.ReadFile(binaryPath)
	if string(installed) != "old binary" {
		t.Fatalf("original binary should be untouched after a rejected upgrade")
	}
}

func TestUpgraderRejectsServerFailureStatus(t *testing.T) {
	dir := t.TempDir()
	binaryPath := filepath.Join(dir, "agent")
	os.WriteFile(binaryPath, []byte("old binary"), 0o755)

	chunks := []*rpc.UpgradeChunk{{Status: rpc.UpgradeStatusFailed}}
	client := &fakeSyncClient{stream: &fakeClientStream{chunks: chunks}}

	u, err := NewUpgrader(client, binaryPath)
	if err != nil {
		t.Fatalf("NewUpgrader: %v", err)
	}

	if err := u.Upgrade(context.Background(), Identity{}, "v2.0.0"); err == nil {
		t.Fatalf("expected a failed server status to abort the upgrade")
	}
}
