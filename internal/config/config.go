// Package config loads the layered tool configuration: defaults, then
// an optional TOML file, then an optional dotenv file, then process
// environment variables. Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Telegram TelegramConfig `toml:"telegram"`
	Cloner   ClonerConfig   `toml:"cloner"`
	Publish  PublishConfig  `toml:"publish"`
	Database DatabaseConfig `toml:"database"`
	Observer ObserverConfig `toml:"observer"`
}

type TelegramConfig struct {
	APIID       int    `toml:"api_id"`
	APIHash     string `toml:"api_hash"`
	Phone       string `toml:"phone"`
	SessionFile string `toml:"session_file"`
}

type ClonerConfig struct {
	DelaySeconds float64 `toml:"delay_seconds"`
	DownloadPath string  `toml:"download_path"`
	LogFile      string  `toml:"log_file"`
	LinkFile     string  `toml:"link_file"`
}

type PublishConfig struct {
	WorkspaceRoot    string   `toml:"workspace_root"`
	SizeLimitMB      int      `toml:"file_size_limit_mb"`
	Mode             string   `toml:"mode"`
	VideoExtensions  []string `toml:"video_extensions"`
	ReencodePlan     string   `toml:"reencode_plan"`
	DurationLimit    string   `toml:"duration_limit"`
	Transition       bool     `toml:"activate_transition"`
	StartIndex       int      `toml:"start_index"`
	HashtagIndex     string   `toml:"hashtag_index"`
	DocumentHashtag  string   `toml:"document_hashtag"`
	DocumentTitle    string   `toml:"document_title"`
	SummaryTop       string   `toml:"path_summary_top"`
	SummaryBottom    string   `toml:"path_summary_bot"`
	AutoAdapt        bool     `toml:"descriptions_auto_adapt"`
	RegisterInvite   bool     `toml:"register_invite_link"`
	MaxPath          int      `toml:"max_path"`
	CreateChannel    bool     `toml:"create_new_channel"`
	ChatID           int64    `toml:"chat_id"`
	MocChatID        int64    `toml:"moc_chat_id"`
	AutodelTemp      bool     `toml:"autodel_video_temp"`
	TimeLimitMinutes int      `toml:"time_limit"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
	URL  string `toml:"url"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{
			SessionFile: "data/clonechat.session",
		},
		Cloner: ClonerConfig{
			DelaySeconds: 2,
			DownloadPath: "data/downloads",
			LogFile:      "data/app.log",
			LinkFile:     "links_canais.txt",
		},
		Publish: PublishConfig{
			WorkspaceRoot: "data/project_workspace",
			SizeLimitMB:   2000,
			Mode:          "zip",
			VideoExtensions: []string{
				"mp4", "mkv", "avi", "mov", "wmv", "flv",
				"webm", "ts", "m4v", "mpg", "mpeg",
			},
			ReencodePlan:     "group",
			DurationLimit:    "02:00:00.00",
			StartIndex:       1,
			HashtagIndex:     "F",
			DocumentHashtag:  "M",
			DocumentTitle:    "Material",
			TimeLimitMinutes: 99,
		},
		Database: DatabaseConfig{Path: "data/clonechat.db"},
	}
}

// Load reads config: defaults -> TOML file -> dotenv file -> env vars
// (env wins). An empty path tries clonechat.toml and ignores its
// absence; an explicit path must exist. envFiles works the same way
// against .env.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = "clonechat.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if explicit {
		return cfg, fmt.Errorf("config file: %w", err)
	}

	// godotenv never overrides variables already in the environment,
	// which is exactly the precedence wanted here.
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return cfg, fmt.Errorf("env file: %w", err)
	}

	if err := cfg.fromEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) fromEnv() error {
	envString("TELEGRAM_API_HASH", &c.Telegram.APIHash)
	envString("TELEGRAM_PHONE", &c.Telegram.Phone)
	envString("CLONECHAT_SESSION", &c.Telegram.SessionFile)
	envString("CLONER_DOWNLOAD_PATH", &c.Cloner.DownloadPath)
	envString("CLONECHAT_LOG", &c.Cloner.LogFile)
	envString("CLONECHAT_LINK_FILE", &c.Cloner.LinkFile)
	envString("MODE", &c.Publish.Mode)
	envString("REENCODE_PLAN", &c.Publish.ReencodePlan)
	envString("DURATION_LIMIT", &c.Publish.DurationLimit)
	envString("HASHTAG_INDEX", &c.Publish.HashtagIndex)
	envString("DOCUMENT_HASHTAG", &c.Publish.DocumentHashtag)
	envString("DOCUMENT_TITLE", &c.Publish.DocumentTitle)
	envString("PATH_SUMMARY_TOP", &c.Publish.SummaryTop)
	envString("PATH_SUMMARY_BOT", &c.Publish.SummaryBottom)
	envString("CLONECHAT_DB", &c.Database.Path)
	envString("CLONECHAT_DATABASE_URL", &c.Database.URL)

	envBool("ACTIVATE_TRANSITION", &c.Publish.Transition)
	envBool("DESCRIPTIONS_AUTO_ADAPT", &c.Publish.AutoAdapt)
	envBool("REGISTER_INVITE_LINK", &c.Publish.RegisterInvite)
	envBool("CREATE_NEW_CHANNEL", &c.Publish.CreateChannel)
	envBool("AUTODEL_VIDEO_TEMP", &c.Publish.AutodelTemp)
	envBool("CLONECHAT_OTEL", &c.Observer.Enabled)

	if v := os.Getenv("VIDEO_EXTENSIONS"); v != "" {
		c.Publish.VideoExtensions = strings.Split(v, ",")
	}

	for _, n := range []struct {
		key string
		dst *int
	}{
		{"TELEGRAM_API_ID", &c.Telegram.APIID},
		{"FILE_SIZE_LIMIT_MB", &c.Publish.SizeLimitMB},
		{"START_INDEX", &c.Publish.StartIndex},
		{"MAX_PATH", &c.Publish.MaxPath},
		{"TIME_LIMIT", &c.Publish.TimeLimitMinutes},
	} {
		if err := envInt(n.key, n.dst); err != nil {
			return err
		}
	}
	if err := envInt64("CHAT_ID", &c.Publish.ChatID); err != nil {
		return err
	}
	if err := envInt64("MOC_CHAT_ID", &c.Publish.MocChatID); err != nil {
		return err
	}
	return envFloat("CLONER_DELAY_SECONDS", &c.Cloner.DelaySeconds)
}

func (c Config) validate() error {
	if c.Publish.Mode != "zip" {
		return fmt.Errorf("unsupported MODE %q (only zip)", c.Publish.Mode)
	}
	switch c.Publish.ReencodePlan {
	case "single", "group":
	default:
		return fmt.Errorf("REENCODE_PLAN must be single or group, got %q", c.Publish.ReencodePlan)
	}
	if _, err := ParseClock(c.Publish.DurationLimit); err != nil {
		return fmt.Errorf("DURATION_LIMIT: %w", err)
	}
	if c.Cloner.DelaySeconds < 0 {
		return fmt.Errorf("CLONER_DELAY_SECONDS must not be negative, got %v", c.Cloner.DelaySeconds)
	}
	return nil
}

// RequirePlatform checks the credentials every platform-touching
// command needs.
func (c Config) RequirePlatform() error {
	if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
		return fmt.Errorf("TELEGRAM_API_ID and TELEGRAM_API_HASH are required")
	}
	return nil
}

// Delay returns the inter-message pause.
func (c ClonerConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// Duration returns the parsed per-part duration limit. Load already
// validated the format.
func (p PublishConfig) Duration() time.Duration {
	d, _ := ParseClock(p.DurationLimit)
	return d
}

// TimeLimit returns the transcoder wall-clock budget.
func (p PublishConfig) TimeLimit() time.Duration {
	return time.Duration(p.TimeLimitMinutes) * time.Minute
}

// VideoExtSet normalises the configured extensions into the lookup set
// the pipeline filters with: lowercase, dot-prefixed.
func (p PublishConfig) VideoExtSet() map[string]bool {
	set := make(map[string]bool, len(p.VideoExtensions))
	for _, ext := range p.VideoExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

// ParseClock parses a HH:MM:SS or HH:MM:SS.mmm clock string into a
// duration.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("clock %q: want HH:MM:SS.mmm", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("clock %q: bad hours", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock %q: bad minutes", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, fmt.Errorf("clock %q: bad seconds", s)
	}
	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return d, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	switch os.Getenv(key) {
	case "true", "1":
		*dst = true
	case "false", "0":
		*dst = false
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}
