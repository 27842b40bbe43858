package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/irkeyd/irkeyd"
)

func TestRootFlagDefaults(t *testing.T) {
	root := newRootCommand(pslog.NewStructured(io.Discard))
	cases := []struct {
		flag string
		want string
	}{
		{"listen", irkeyd.DefaultListen},
		{"device", irkeyd.DefaultDevice},
		{"keyfile", irkeyd.DefaultKeyFile},
		{"protocol", irkeyd.DefaultProtocol},
		{"repeat-interval", irkeyd.DefaultRepeatInterval.String()},
		{"max-hold", irkeyd.DefaultMaxHold.String()},
	}
	for _, tc := range cases {
		flag := root.Flags().Lookup(tc.flag)
		if flag == nil {
			t.Fatalf("missing --%s", tc.flag)
		}
		if flag.DefValue != tc.want {
			t.Fatalf("--%s default = %q, want %q", tc.flag, flag.DefValue, tc.want)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatal("missing persistent --config")
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand(pslog.NewStructured(io.Discard))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "irkeyd") {
		t.Fatalf("version output %q missing module path", out.String())
	}
}

func TestBindConfigParsesJSONMax(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("json-max", "64KiB")
	viper.Set("repeat-interval", "50ms")
	viper.Set("serialize-transmit", true)

	var cfg irkeyd.Config
	if err := bindConfig(&cfg); err != nil {
		t.Fatalf("bindConfig: %v", err)
	}
	if cfg.JSONMaxBytes != 64<<10 {
		t.Fatalf("JSONMaxBytes = %d, want %d", cfg.JSONMaxBytes, 64<<10)
	}
	if cfg.RepeatInterval.Milliseconds() != 50 {
		t.Fatalf("RepeatInterval = %s, want 50ms", cfg.RepeatInterval)
	}
	if !cfg.SerializeTransmit {
		t.Fatal("SerializeTransmit not bound")
	}
}

func TestBindConfigRejectsBadJSONMax(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("json-max", "lots")
	var cfg irkeyd.Config
	if err := bindConfig(&cfg); err == nil {
		t.Fatal("expected parse error for json-max")
	}
}

func TestBindConfigExpandsPaths(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("keyfile", "key.json")
	var cfg irkeyd.Config
	if err := bindConfig(&cfg); err != nil {
		t.Fatalf("bindConfig: %v", err)
	}
	if !filepath.IsAbs(cfg.KeyFile) {
		t.Fatalf("KeyFile %q not absolute", cfg.KeyFile)
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := expandPath("~/key.json")
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if got != filepath.Join(home, "key.json") {
		t.Fatalf("expandPath = %q, want %q", got, filepath.Join(home, "key.json"))
	}
}

func TestHumanizeBytesCompact(t *testing.T) {
	if got := humanizeBytes(64 << 10); strings.Contains(got, " ") {
		t.Fatalf("humanizeBytes produced padded value %q", got)
	}
}
