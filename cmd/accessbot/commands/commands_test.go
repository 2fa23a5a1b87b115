package commands

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"testing"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	_ = r.Close()

	return buf.String()
}

// isolateHome points the default config location at a temp dir.
func isolateHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	configPathFlag = ""
	return tmpDir
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{"": "INFO", "debug": "DEBUG", "warning": "WARN", "error": "ERROR"}
	for in, want := range cases {
		got, err := parseLogLevel(in, "")
		if err != nil || got.String() != want {
			t.Fatalf("parseLogLevel(%q) = %v, %v; want %s", in, got, err, want)
		}
	}
	got, err := parseLogLevel("info", "debug")
	if err != nil || got.String() != "DEBUG" {
		t.Fatalf("override should win, got %v %v", got, err)
	}
	if _, err := parseLogLevel("loud", ""); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"init", "run", "status", "pending", "channels", "version"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected subcommand %q, got %v %v", name, cmd, err)
		}
	}
}

func TestConfigFlagOverridesPath(t *testing.T) {
	isolateHome(t)
	custom := t.TempDir() + "/custom.json"
	configPathFlag = custom
	t.Cleanup(func() { configPathFlag = "" })

	if got := configPath(); got != custom {
		t.Fatalf("configPath() = %q, want %q", got, custom)
	}
	if _, err := loadConfig(); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if _, err := os.Stat(custom); err != nil {
		t.Fatalf("expected default config written to %s: %v", custom, err)
	}
}
