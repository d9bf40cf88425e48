package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Cloner.DelaySeconds != 2 {
		t.Errorf("expected delay 2, got %v", cfg.Cloner.DelaySeconds)
	}
	if cfg.Publish.SizeLimitMB != 2000 {
		t.Errorf("expected 2000 MB, got %d", cfg.Publish.SizeLimitMB)
	}
	if cfg.Publish.ReencodePlan != "group" {
		t.Errorf("expected group, got %s", cfg.Publish.ReencodePlan)
	}
	if cfg.Publish.Duration() != 2*time.Hour {
		t.Errorf("expected 2h duration limit, got %v", cfg.Publish.Duration())
	}
	if !cfg.Publish.VideoExtSet()[".mp4"] {
		t.Errorf("default extensions should include .mp4")
	}
	if cfg.Database.Path != "data/clonechat.db" {
		t.Errorf("got db path %s", cfg.Database.Path)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[telegram]
api_id = 12345
api_hash = "abc"

[publish]
hashtag_index = "T"
start_index = 7
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.APIID != 12345 || cfg.Telegram.APIHash != "abc" {
		t.Errorf("credentials not read: %+v", cfg.Telegram)
	}
	if cfg.Publish.HashtagIndex != "T" || cfg.Publish.StartIndex != 7 {
		t.Errorf("publish section not read: %+v", cfg.Publish)
	}
	// Defaults preserved
	if cfg.Publish.DocumentTitle != "Material" {
		t.Errorf("default should be preserved, got %s", cfg.Publish.DocumentTitle)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.toml"); err == nil {
		t.Fatal("explicit missing config file should error")
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[publish]
hashtag_index = "T"
chat_id = 1
`), 0644)

	t.Setenv("HASHTAG_INDEX", "E")
	t.Setenv("CHAT_ID", "-1001000000555")
	t.Setenv("CREATE_NEW_CHANNEL", "1")
	t.Setenv("VIDEO_EXTENSIONS", "MP4, mkv")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Publish.HashtagIndex != "E" {
		t.Errorf("expected E, got %s", cfg.Publish.HashtagIndex)
	}
	if cfg.Publish.ChatID != -1001000000555 {
		t.Errorf("expected canonical id, got %d", cfg.Publish.ChatID)
	}
	if !cfg.Publish.CreateChannel {
		t.Errorf("expected CREATE_NEW_CHANNEL=1 to enable creation")
	}
	set := cfg.Publish.VideoExtSet()
	if !set[".mp4"] || !set[".mkv"] || len(set) != 2 {
		t.Errorf("extension set not normalised: %v", set)
	}
}

func TestDotenvLayer(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	os.WriteFile(envFile, []byte("DOCUMENT_TITLE=Apostila\nHASHTAG_INDEX=X\n"), 0644)
	t.Cleanup(func() {
		os.Unsetenv("DOCUMENT_TITLE")
		os.Unsetenv("HASHTAG_INDEX")
	})

	// Process env beats the dotenv file.
	t.Setenv("HASHTAG_INDEX", "Z")

	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Publish.DocumentTitle != "Apostila" {
		t.Errorf("dotenv value not applied, got %s", cfg.Publish.DocumentTitle)
	}
	if cfg.Publish.HashtagIndex != "Z" {
		t.Errorf("process env should win, got %s", cfg.Publish.HashtagIndex)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"mode", "MODE", "rar"},
		{"plan", "REENCODE_PLAN", "both"},
		{"duration", "DURATION_LIMIT", "90 minutes"},
		{"number", "START_INDEX", "first"},
		{"delay", "CLONER_DELAY_SECONDS", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil {
				t.Errorf("%s=%s should fail to load", tt.key, tt.value)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"02:00:00.00", 2 * time.Hour, false},
		{"00:45:30", 45*time.Minute + 30*time.Second, false},
		{"01:02:03.500", time.Hour + 2*time.Minute + 3*time.Second + 500*time.Millisecond, false},
		{"1:2:3", time.Hour + 2*time.Minute + 3*time.Second, false},
		{"02:00", 0, true},
		{"02:61:00", 0, true},
		{"02:00:61", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseClock(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRequirePlatform(t *testing.T) {
	cfg := Default()
	if err := cfg.RequirePlatform(); err == nil {
		t.Error("missing credentials should error")
	}
	cfg.Telegram.APIID = 1
	cfg.Telegram.APIHash = "h"
	if err := cfg.RequirePlatform(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
