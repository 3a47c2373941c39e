package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lintestor-go/lintestor/pkg/config"
)

// Boardtest wraps an HTTP board-test API: write_test declares a single
// test case whose success criterion is "exit code 0", then create_test,
// start_test, poll test_status, and finally fetch test_output (spec §4.1,
// "Boardtest").
type Boardtest struct {
	target *config.Target
	client *http.Client
}

func NewBoardtest(target *config.Target) *Boardtest {
	timeout := time.Duration(target.Boardtest.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Boardtest{target: target, client: &http.Client{Timeout: timeout}}
}

func (b *Boardtest) Setup(ctx context.Context) error    { return nil }
func (b *Boardtest) Teardown(ctx context.Context) error { return nil }
func (b *Boardtest) Close() error                       { return nil }

func (b *Boardtest) Execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	testID, err := b.writeAndCreateTest(ctx, cmd)
	if err != nil {
		return Result{}, fmt.Errorf("boardtest: %w", err)
	}
	if err := b.startTest(ctx, testID); err != nil {
		return Result{}, fmt.Errorf("boardtest: start_test: %w", err)
	}

	status, err := b.pollUntilDone(ctx, testID, timeout)
	if err != nil {
		return Result{}, fmt.Errorf("boardtest: %w", err)
	}

	output, err := b.fetchOutput(ctx, testID)
	if err != nil {
		return Result{}, fmt.Errorf("boardtest: test_output: %w", err)
	}

	exitCode := 0
	if status == "failed" {
		exitCode = 1
	} else if status != "completed" {
		exitCode = -1 // stopped or otherwise incomplete
	}
	return Result{Stdout: output, ExitCode: exitCode}, nil
}

type testCase struct {
	Command  string `json:"command"`
	Expected int    `json:"expected_exit_code"`
}

func (b *Boardtest) writeAndCreateTest(ctx context.Context, cmd string) (string, error) {
	payload, _ := json.Marshal(testCase{Command: cmd, Expected: 0})
	if err := b.post(ctx, "/write_test", payload, nil); err != nil {
		return "", fmt.Errorf("write_test: %w", err)
	}

	var created struct {
		TestID string `json:"test_id"`
	}
	body, _ := json.Marshal(map[string]string{
		"board_config": b.target.Boardtest.BoardConfig,
		"serial":       b.target.Boardtest.Serial,
		"token":        b.target.Boardtest.Token,
	})
	if err := b.post(ctx, "/create_test", body, &created); err != nil {
		return "", fmt.Errorf("create_test: %w", err)
	}
	return created.TestID, nil
}

func (b *Boardtest) startTest(ctx context.Context, testID string) error {
	body, _ := json.Marshal(map[string]string{"test_id": testID})
	return b.post(ctx, "/start_test", body, nil)
}

func (b *Boardtest) pollUntilDone(ctx context.Context, testID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		var status struct {
			Status string `json:"status"`
		}
		body, _ := json.Marshal(map[string]string{"test_id": testID})
		if err := b.post(ctx, "/test_status", body, &status); err != nil {
			return "", err
		}
		switch status.Status {
		case "completed", "failed", "stopped":
			return status.Status, nil
		}
		if time.Now().After(deadline) {
			return status.Status, nil // unfinished: Execute reports exit code -1
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (b *Boardtest) fetchOutput(ctx context.Context, testID string) (string, error) {
	var out struct {
		Output string `json:"output"`
	}
	body, _ := json.Marshal(map[string]string{"test_id": testID})
	if err := b.post(ctx, "/test_output", body, &out); err != nil {
		return "", err
	}
	return out.Output, nil
}

func (b *Boardtest) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.target.Boardtest.APIURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.target.Boardtest.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.target.Boardtest.Token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: server error %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
