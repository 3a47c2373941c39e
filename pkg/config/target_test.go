package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempTarget(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp target: %v", err)
	}
	return path
}

func TestLoadValidTarget(t *testing.T) {
	path := writeTempTarget(t, `
enabled = true
testing_type = "ssh"
skip_units = ["flaky-unit"]

[connection]
method = "key"
ip = "10.0.0.5"
port = 22
username = "root"
private_key_path = "/root/.ssh/id_ed25519"
`)
	target, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if target.TestingType != "ssh" {
		t.Errorf("testing_type = %q, want ssh", target.TestingType)
	}
	if target.Connection.IP != "10.0.0.5" {
		t.Errorf("connection.ip = %q, want 10.0.0.5", target.Connection.IP)
	}
	if !target.SkipsUnit("flaky-unit") {
		t.Error("expected flaky-unit to be in skip_units")
	}
	if target.SkipsUnit("other-unit") {
		t.Error("did not expect other-unit to be skipped")
	}
}

func TestLoadMissingTestingTypeFails(t *testing.T) {
	path := writeTempTarget(t, `enabled = true`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing testing_type")
	}
}

func TestLoadMalformedTOMLFails(t *testing.T) {
	path := writeTempTarget(t, `this is not valid toml =`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestLoadBoardtestFields(t *testing.T) {
	path := writeTempTarget(t, `
testing_type = "boardtest"

[boardtest]
token = "abc123"
api_url = "https://boards.example/api"
timeout_secs = 120
mi_sdk_enabled = true
`)
	target, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if target.Boardtest.Token != "abc123" || target.Boardtest.TimeoutSecs != 120 || !target.Boardtest.MISDKEnabled {
		t.Errorf("unexpected boardtest fields: %+v", target.Boardtest)
	}
}
