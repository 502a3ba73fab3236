package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tgmirror/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_TeesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "tgmirror.log")
	l, closeLog, err := newLogger("debug", logFile)
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("cursor advanced", "to", 42)
	closeLog()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "cursor advanced") || !strings.Contains(string(data), "to=42") {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	set := backupSet{
		Config:   filepath.Join(dir, "config.json"),
		Registry: filepath.Join(dir, "channels.yaml"),
		Database: filepath.Join(dir, "records.db"),
	}
	contents := map[string]string{
		set.Config:            `{"general":{}}`,
		set.Registry:          "channels: []\n",
		set.Database:          "sqlite-bytes",
		set.Database + "-wal": "wal-bytes",
	}
	for p, c := range contents {
		if err := os.WriteFile(p, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files := set.files()
	if len(files) != 4 {
		t.Fatalf("expected 4 files (no -shm), got %v", files)
	}
	archive := filepath.Join(dir, "backup.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatal(err)
	}

	restoreDir := t.TempDir()
	target := backupSet{
		Config:   filepath.Join(restoreDir, "config.json"),
		Registry: filepath.Join(restoreDir, "reg", "channels.yaml"),
		Database: filepath.Join(restoreDir, "data", "records.db"),
	}
	restored, err := extractTarGz(archive, target)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 4 {
		t.Fatalf("expected 4 restored files, got %v", restored)
	}

	for src, dst := range map[string]string{
		set.Config:            target.Config,
		set.Registry:          target.Registry,
		set.Database:          target.Database,
		set.Database + "-wal": target.Database + "-wal",
	} {
		got, err := os.ReadFile(dst)
		if err != nil {
			t.Fatalf("missing %s: %v", dst, err)
		}
		if string(got) != contents[src] {
			t.Errorf("%s: got %q, want %q", dst, got, contents[src])
		}
	}
}

func TestResolveBackupSet_FromConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := config.Defaults()
	cfg.ChannelsFile = filepath.Join(dir, "channels.yaml")
	cfg.Store.DSN = filepath.Join(dir, "records.db")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}

	set := resolveBackupSet(cfgPath)
	if set.Registry != cfg.ChannelsFile || set.Database != cfg.Store.DSN {
		t.Errorf("unexpected set: %+v", set)
	}

	cfg.Store.DSN = "postgres://u:p@db/tgmirror"
	config.Save(cfgPath, cfg)
	if set := resolveBackupSet(cfgPath); set.Database != "" {
		t.Errorf("postgres store has no database file, got %q", set.Database)
	}
}

func TestPlanUnit_Systemd(t *testing.T) {
	unit, err := planUnit("linux", "/home/u", unitParams{
		Exec:    "/usr/local/bin/tgmirror",
		Config:  "/home/u/.tgmirror/config.json",
		WorkDir: "/home/u/.tgmirror",
	})
	if err != nil {
		t.Fatal(err)
	}
	if unit.Path != "/home/u/.config/systemd/user/tgmirror.service" {
		t.Errorf("unexpected path %s", unit.Path)
	}
	if !strings.Contains(unit.Body, "ExecStart=/usr/local/bin/tgmirror run --config /home/u/.tgmirror/config.json") {
		t.Errorf("unexpected unit:\n%s", unit.Body)
	}
	if !strings.Contains(unit.Body, "WorkingDirectory=/home/u/.tgmirror") {
		t.Errorf("working directory missing:\n%s", unit.Body)
	}
}

func TestPlanUnit_Launchd(t *testing.T) {
	unit, err := planUnit("darwin", "/Users/u", unitParams{
		Exec:   "/opt/tgmirror",
		Config: "/Users/u/.tgmirror/config.json",
		Log:    "/Users/u/.tgmirror/logs/tgmirror.log",
	})
	if err != nil {
		t.Fatal(err)
	}
	if unit.Path != "/Users/u/Library/LaunchAgents/com.tgmirror.sync.plist" {
		t.Errorf("unexpected path %s", unit.Path)
	}
	for _, want := range []string{
		"<string>com.tgmirror.sync</string>",
		"<string>/opt/tgmirror</string>",
		"<string>/Users/u/.tgmirror/logs/tgmirror.log</string>",
	} {
		if !strings.Contains(unit.Body, want) {
			t.Errorf("plist missing %q:\n%s", want, unit.Body)
		}
	}
}

func TestPlanUnit_Unsupported(t *testing.T) {
	if _, err := planUnit("windows", `C:\Users\u`, unitParams{}); err == nil {
		t.Fatal("expected error for unsupported OS")
	}
}
