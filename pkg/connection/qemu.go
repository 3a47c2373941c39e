package connection

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/lintestor-go/lintestor/pkg/config"
)

// QEMU wraps SSH: setup runs a startup script and waits for the SSH port
// to come up before dialing; teardown runs a stop script after closing
// the SSH session (spec §4.1, "QEMU").
type QEMU struct {
	target *config.Target
	ssh    *SSH
}

func NewQEMU(target *config.Target, opts Options) *QEMU {
	return &QEMU{target: target, ssh: NewSSH(target, opts)}
}

func (q *QEMU) Setup(ctx context.Context) error {
	if q.target.StartupTemplate != "" {
		if err := runScript(ctx, q.target.StartupTemplate); err != nil {
			return fmt.Errorf("qemu: startup script: %w", err)
		}
	}
	if err := waitForPort(ctx, q.target.Connection.IP, q.target.Connection.Port, 60*time.Second, 5*time.Second); err != nil {
		return fmt.Errorf("qemu: ssh port never came up: %w", err)
	}
	return q.ssh.Setup(ctx)
}

func (q *QEMU) Execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	return q.ssh.Execute(ctx, cmd, timeout)
}

func (q *QEMU) Teardown(ctx context.Context) error {
	if err := q.ssh.Teardown(ctx); err != nil {
		return err
	}
	if err := q.ssh.Close(); err != nil {
		return err
	}
	if q.target.StopTemplate != "" {
		if err := runScript(ctx, q.target.StopTemplate); err != nil {
			return fmt.Errorf("qemu: stop script: %w", err)
		}
	}
	return nil
}

func (q *QEMU) Close() error {
	return nil // Teardown already closed the session and ran the stop script.
}

func runScript(ctx context.Context, path string) error {
	parts := strings.Fields(path)
	if len(parts) == 0 {
		return fmt.Errorf("empty script path")
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	return cmd.Run()
}

// waitForPort polls a TCP address until it accepts a connection or the
// bound wait elapses.
func waitForPort(ctx context.Context, host string, port int, bound, interval time.Duration) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	deadline := time.Now().Add(bound)
	for {
		conn, err := net.DialTimeout("tcp", addr, interval)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", addr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
