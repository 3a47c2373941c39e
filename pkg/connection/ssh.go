package connection

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/lintestor-go/lintestor/pkg/config"
)

// reExportAssign and reBareAssign scan executed command text for variable
// assignments so the engine can simulate environment persistence across
// the fresh channel each SSH command runs in (spec §4.1, "SSH").
var (
	reExportAssign = regexp.MustCompile(`(?m)^\s*export\s+([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
	reBareAssign   = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// Options carries the engine-level knobs (retry count, default timeout)
// that the factory passes to the SSH and QEMU backends. Only RetryCount is
// read (by SSH setup); CommandTimeout is carried but no backend reads it.
type Options struct {
	RetryCount     int
	CommandTimeout time.Duration
}

// SSH holds one authenticated session open for the connection's lifetime.
type SSH struct {
	target *config.Target
	opts   Options

	client   *ssh.Client
	jumpProc *exec.Cmd

	mu           sync.Mutex
	exportOrder  []string
	exportValues map[string]string
}

// NewSSH constructs (but does not dial) an SSH backend for target.
func NewSSH(target *config.Target, opts Options) *SSH {
	return &SSH{target: target, opts: opts, exportValues: make(map[string]string)}
}

func (s *SSH) Setup(ctx context.Context) error {
	if s.client != nil {
		return nil // idempotent
	}

	addr := fmt.Sprintf("%s:%d", s.target.Connection.IP, s.target.Connection.Port)
	if len(s.target.Connection.JumpHosts) > 0 {
		localAddr, proc, err := startJumpTunnel(s.target)
		if err != nil {
			return fmt.Errorf("ssh: jump tunnel: %w", err)
		}
		s.jumpProc = proc
		addr = localAddr
	}

	clientConfig, err := buildClientConfig(s.target)
	if err != nil {
		return fmt.Errorf("ssh: auth config: %w", err)
	}

	retries := s.opts.RetryCount
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		client, dialErr := ssh.Dial("tcp", addr, clientConfig)
		if dialErr == nil {
			s.client = client
			return nil
		}
		lastErr = dialErr
		if attempt < retries {
			time.Sleep(time.Second)
		}
	}
	return fmt.Errorf("ssh: dial %s: %w", addr, lastErr)
}

// buildClientConfig tries agent, then private-key file, then password, in
// that order, per spec §4.1.
func buildClientConfig(target *config.Target) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			ag := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
		}
	}

	if target.Connection.PrivateKeyPath != "" {
		keyBytes, err := os.ReadFile(target.Connection.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if target.Connection.Password != "" {
		methods = append(methods, ssh.Password(target.Connection.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method configured")
	}

	return &ssh.ClientConfig{
		User:            target.Connection.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}, nil
}

// startJumpTunnel shells out to the system ssh client to open a local
// forward through the configured jump hosts, the way the engine's Rust
// predecessor did (there is no pure-Go multi-hop proxy jump support in
// golang.org/x/crypto/ssh), returning the local address to dial instead.
func startJumpTunnel(target *config.Target) (string, *exec.Cmd, error) {
	port, err := freePort()
	if err != nil {
		return "", nil, err
	}

	jumpSpec := strings.Join(target.Connection.JumpHosts, ",")
	dest := fmt.Sprintf("%s@%s", target.Connection.Username, target.Connection.IP)
	forward := fmt.Sprintf("%d:%s:%d", port, target.Connection.IP, target.Connection.Port)

	cmd := exec.Command("ssh", "-N", "-L", forward, "-J", jumpSpec, dest)
	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("spawn jump tunnel: %w", err)
	}
	// Give the background process a moment to bind before we dial it.
	time.Sleep(500 * time.Millisecond)

	return fmt.Sprintf("127.0.0.1:%d", port), cmd, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (s *SSH) Execute(ctx context.Context, cmdStr string, timeout time.Duration) (Result, error) {
	if s.client == nil {
		return Result{}, fmt.Errorf("ssh: execute before setup")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	session, err := s.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("ssh: new session: %w", err)
	}
	defer session.Close()

	full := s.prefixExports(cmdStr)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(full); err != nil {
		return Result{}, fmt.Errorf("ssh: start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-time.After(timeout):
		_ = session.Close()
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, nil
	case waitErr := <-done:
		s.recordAssignments(cmdStr)
		if waitErr == nil {
			return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}, nil
		}
		var exitErr *ssh.ExitError
		if eerr, ok := waitErr.(*ssh.ExitError); ok {
			exitErr = eerr
			return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitStatus()}, nil
		}
		return Result{}, fmt.Errorf("ssh: command failed: %w", waitErr)
	}
}

// prefixExports synthesises environment persistence: every K=V the engine
// has observed in prior commands on this connection is re-exported ahead
// of the new command, since the SSH library opens a fresh channel each time.
func (s *SSH) prefixExports(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.exportOrder) == 0 {
		return cmd
	}
	var b strings.Builder
	for _, name := range s.exportOrder {
		b.WriteString("export ")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(s.exportValues[name])
		b.WriteString("; ")
	}
	b.WriteString(cmd)
	return b.String()
}

func (s *SSH) recordAssignments(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range reExportAssign.FindAllStringSubmatch(cmd, -1) {
		s.setExport(m[1], m[2])
	}
	for _, m := range reBareAssign.FindAllStringSubmatch(cmd, -1) {
		s.setExport(m[1], m[2])
	}
}

func (s *SSH) setExport(name, value string) {
	if _, exists := s.exportValues[name]; !exists {
		s.exportOrder = append(s.exportOrder, name)
	}
	s.exportValues[name] = value
}

func (s *SSH) Teardown(ctx context.Context) error {
	return nil
}

func (s *SSH) Close() error {
	var err error
	if s.client != nil {
		err = s.client.Close()
		s.client = nil
	}
	if s.jumpProc != nil && s.jumpProc.Process != nil {
		_ = s.jumpProc.Process.Kill()
		_, _ = s.jumpProc.Process.Wait()
	}
	return err
}
