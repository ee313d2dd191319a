package controller

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/cyh01/deepflow/controller/rpc"
)

// Upgrader streams a new binary from the controller and swaps it into
// place, grounded on synchronizer.rs's upgrade()/utils/process/linux.rs's
// deploy_program.
type Upgrader struct {
	client syncClient

	// binaryPath is this agent's own executable path; overridable in
	// tests so they don't have to replace the real test binary.
	binaryPath string
}

// NewUpgrader wraps client; binaryPath defaults to os.Executable().
func NewUpgrader(client syncClient, binaryPath string) (*Upgrader, error) {
	if binaryPath == "" {
		p, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("upgrade: cannot resolve own executable path: %w", err)
		}

		binaryPath = p
	}

	return &Upgrader{client: client, binaryPath: binaryPath}, nil
}

// Upgrade streams, verifies, and installs the binary the controller
// offers for newRevision, then returns nil on success; callers should
// exit with defaults.NormalExitWithRestart afterward so the new binary
// takes over on the next supervisor-driven start. Grounded step for
// step on Synchronizer::upgrade.
func (u *Upgrader) Upgrade(ctx context.Context, identity Identity, newRevision string) error {
	stream, err := u.client.Upgrade(ctx, &rpc.UpgradeRequest{
		CtrlIP:  identity.CtrlIP,
		CtrlMac: identity.CtrlMac,
	})
	if err != nil {
		return fmt.Errorf("upgrade: rpc error: %w", err)
	}

	tempPath := u.binaryPath + ".test"
	backupPath := u.binaryPath + ".bak"

	fp, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("upgrade: create %s: %w", tempPath, err)
	}

	w := bufio.NewWriter(fp)
	checksum := md5.New()

	var (
		firstMessage        = true
		md5Sum              string
		bytesWritten, total int
	)

	for {
		chunk := new(rpc.UpgradeChunk)
		if err := stream.RecvMsg(chunk); err != nil {
			if err == io.EOF {
				break
			}

			fp.Close()

			return fmt.Errorf("upgrade: stream error: %w", err)
		}

		if chunk.Status != rpc.UpgradeStatusSuccess {
			fp.Close()

			return fmt.Errorf("upgrade: failed in server response")
		}

		if firstMessage {
			firstMessage = false
			md5Sum = chunk.Md5
			total = int(chunk.TotalLen)
		}

		checksum.Write(chunk.Content)

		if _, err := w.Write(chunk.Content); err != nil {
			fp.Close()

			return fmt.Errorf("upgrade: write %s: %w", tempPath, err)
		}

		bytesWritten += len(chunk.Content)
	}

	if bytesWritten != total {
		fp.Close()

		return fmt.Errorf("upgrade: binary truncated, received %d/%d bytes", bytesWritten, total)
	}

	sum := hex.EncodeToString(checksum.Sum(nil))
	if sum != md5Sum {
		fp.Close()

		return fmt.Errorf("upgrade: checksum mismatch, expected %s got %s", md5Sum, sum)
	}

	if err := w.Flush(); err != nil {
		fp.Close()

		return fmt.Errorf("upgrade: flush %s: %w", tempPath, err)
	}
	if err := fp.Close(); err != nil {
		return fmt.Errorf("upgrade: close %s: %w", tempPath, err)
	}

	if err := os.Chmod(tempPath, 0o755); err != nil {
		return fmt.Errorf("upgrade: chmod %s: %w", tempPath, err)
	}

	out, err := exec.CommandContext(ctx, tempPath, "-v").Output()
	if err != nil {
		return fmt.Errorf("upgrade: binary execution failed: %w", err)
	}
	if !strings.HasPrefix(string(out), newRevision) {
		return fmt.Errorf("upgrade: binary version mismatch")
	}

	os.Remove(backupPath) // ignore: backup may not exist yet

	if err := os.Rename(u.binaryPath, backupPath); err != nil {
		return fmt.Errorf("upgrade: backup old binary: %w", err)
	}

	if err := os.Rename(tempPath, u.binaryPath); err != nil {
		if rerr := os.Rename(backupPath, u.binaryPath); rerr != nil {
			return fmt.Errorf("upgrade: install new binary failed (%v), restoring backup also failed: %w", err, rerr)
		}

		return fmt.Errorf("upgrade: install new binary: %w", err)
	}

	os.Remove(backupPath) // ignore: upgrade already succeeded

	return nil
}
