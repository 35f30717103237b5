package main

import (
	"bytes"
	"strings"
	"testing"
)

func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runWithArgs([]string{"termcam"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage output, got %q", out)
	}
}

func TestRunHelp(t *testing.T) {
	for _, arg := range []string{"help", "--help", "-h"} {
		code, out, _ := runWithArgs([]string{"termcam", arg})
		if code != 0 || !strings.Contains(out, "Commands:") {
			t.Fatalf("%s: code=%d out=%q", arg, code, out)
		}
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs([]string{"termcam", "version"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if strings.TrimSpace(out) != "termcam "+Version {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"termcam", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown command") {
		t.Fatalf("expected unknown command output, got %q", out)
	}
}

func TestRunDevicesMissingSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"termcam", "devices"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Usage: termcam devices") {
		t.Fatalf("expected devices usage, got %q", out)
	}
}

func TestRunDevicesUnknownSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"termcam", "devices", "revoke"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown devices command") {
		t.Fatalf("expected unknown devices command, got %q", out)
	}
}

func TestStartHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStart([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: termcam start") {
		t.Fatalf("expected start usage, got %q", stderr.String())
	}
}

func TestStartInvalidFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStart([]string{"--display-count=bad"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output for invalid flag")
	}
}

func TestStartMissingConfigFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStart([]string{"--config", "/nonexistent/termcam.toml"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Error:") {
		t.Fatalf("expected error output, got %q", stderr.String())
	}
}

func TestLoadStartConfigFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
addr = "127.0.0.1:7300"
display_count = 4
mdns_enabled = true
`)

	cfg, err := loadStartConfig(&StartConfig{
		Config:       path,
		Addr:         "127.0.0.1:7400",
		DataDir:      t.TempDir(),
		DisplayCount: 8,
		MdnsEnabled:  false,
	}, map[string]bool{"mdns": true})
	if err != nil {
		t.Fatalf("loadStartConfig: %v", err)
	}
	if cfg.Addr != "127.0.0.1:7400" {
		t.Errorf("addr=%s want flag value", cfg.Addr)
	}
	if cfg.DisplayCount != 8 {
		t.Errorf("display_count=%d want 8", cfg.DisplayCount)
	}
	if cfg.MdnsEnabled {
		t.Error("explicit --mdns=false should override the file")
	}
}

func TestLoadStartConfigKeepsFileBooleansWithoutFlag(t *testing.T) {
	path := writeConfig(t, "mdns_enabled = true\nkeep_awake = true\n")

	cfg, err := loadStartConfig(&StartConfig{Config: path, DataDir: t.TempDir()}, map[string]bool{})
	if err != nil {
		t.Fatalf("loadStartConfig: %v", err)
	}
	if !cfg.MdnsEnabled || !cfg.KeepAwake {
		t.Fatalf("file booleans lost: mdns=%v keep_awake=%v", cfg.MdnsEnabled, cfg.KeepAwake)
	}
}

func TestPortOf(t *testing.T) {
	if got := portOf("127.0.0.1:7171"); got != 7171 {
		t.Errorf("portOf=%d want 7171", got)
	}
	if got := portOf("nonsense"); got != 0 {
		t.Errorf("portOf=%d want 0", got)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{45, "45s"},
		{323, "5m 23s"},
		{8100, "2h 15m"},
		{273600, "3d 4h"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.seconds); got != tt.want {
			t.Errorf("formatUptime(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
