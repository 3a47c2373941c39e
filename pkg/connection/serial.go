package connection

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/lintestor-go/lintestor/pkg/config"
)

// shellPrompt recognizes the trailing prompt a logged-in shell leaves on
// the line, used both to know the login dance completed and to know a
// command's output has finished arriving.
var shellPrompt = regexp.MustCompile(`[$#>]\s*$`)

// Serial opens a line-oriented console and performs a login dance before
// executing commands (spec §4.1, "Serial"). The target's generic
// Connection fields are reused: IP names the device path (e.g.
// "/dev/ttyUSB0"), Port is the baud rate.
type Serial struct {
	target *config.Target
	port   serial.Port
	loggedIn bool
}

func NewSerial(target *config.Target) *Serial {
	return &Serial{target: target}
}

func (s *Serial) Setup(ctx context.Context) error {
	if s.port != nil {
		return nil
	}
	mode := &serial.Mode{BaudRate: s.target.Connection.Port}
	if mode.BaudRate == 0 {
		mode.BaudRate = 115200
	}
	p, err := serial.Open(s.target.Connection.IP, mode)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", s.target.Connection.IP, err)
	}
	s.port = p

	if err := s.login(ctx); err != nil {
		_ = p.Close()
		s.port = nil
		return fmt.Errorf("serial: login: %w", err)
	}
	return nil
}

func (s *Serial) login(ctx context.Context) error {
	if _, err := s.waitForPattern(ctx, regexp.MustCompile(`(?i)login:\s*$`), 15*time.Second); err != nil {
		return err
	}
	if err := s.send(s.target.Connection.Username + "\n"); err != nil {
		return err
	}
	if _, err := s.waitForPattern(ctx, regexp.MustCompile(`(?i)password:\s*$`), 15*time.Second); err != nil {
		return err
	}
	if err := s.send(s.target.Connection.Password + "\n"); err != nil {
		return err
	}
	if _, err := s.waitForPattern(ctx, shellPrompt, 15*time.Second); err != nil {
		return err
	}
	s.loggedIn = true
	return nil
}

// waitForPattern polls the port every 50ms until buffered output matches
// pattern or the bound elapses, returning everything read so far.
func (s *Serial) waitForPattern(ctx context.Context, pattern *regexp.Regexp, bound time.Duration) (string, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 256)
	deadline := time.Now().Add(bound)
	for {
		_ = s.port.SetReadTimeout(50 * time.Millisecond)
		n, err := s.port.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if pattern.MatchString(buf.String()) {
				return buf.String(), nil
			}
		}
		if err != nil {
			return buf.String(), fmt.Errorf("read: %w", err)
		}
		if time.Now().After(deadline) {
			return buf.String(), fmt.Errorf("timed out waiting for pattern %s", pattern.String())
		}
		select {
		case <-ctx.Done():
			return buf.String(), ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *Serial) send(line string) error {
	_, err := s.port.Write([]byte(line))
	return err
}

func (s *Serial) Execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	if s.port == nil || !s.loggedIn {
		return Result{}, fmt.Errorf("serial: execute before setup/login")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Flush anything buffered from a previous command before sending.
	_ = s.port.ResetInputBuffer()

	if err := s.send(cmd + "\n"); err != nil {
		return Result{}, fmt.Errorf("serial: send command: %w", err)
	}

	raw, err := s.waitForPattern(ctx, shellPrompt, timeout)
	if err != nil {
		// A timeout here is reported as exit_code -1, not a transport error.
		return Result{Stdout: stripEcho(raw, cmd), ExitCode: -1}, nil
	}

	// No exit code or stderr channel on this transport (spec §4.1 and §9).
	return Result{Stdout: stripEcho(raw, cmd), Stderr: "", ExitCode: 0}, nil
}

// stripEcho removes the echoed command line and the trailing shell prompt
// from raw serial output, leaving just the command's own output.
func stripEcho(raw, cmd string) string {
	text := raw
	if idx := indexAfterLine(text, cmd); idx >= 0 {
		text = text[idx:]
	}
	return shellPrompt.ReplaceAllString(text, "")
}

func indexAfterLine(text, line string) int {
	idx := strings.Index(text, line)
	if idx < 0 {
		return -1
	}
	rest := idx + len(line)
	if rest < len(text) && text[rest] == '\n' {
		rest++
	} else if rest < len(text) && text[rest] == '\r' {
		rest++
		if rest < len(text) && text[rest] == '\n' {
			rest++
		}
	}
	return rest
}

func (s *Serial) Teardown(ctx context.Context) error {
	return nil
}

func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
