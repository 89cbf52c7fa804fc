package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	envConfigPath       = "CHATSYNC_CONFIG"
	envBaseURL          = "CHATSYNC_BASE_URL"
	envWSBaseURL        = "CHATSYNC_WS_BASE_URL"
	envSessionToken     = "CHATSYNC_SESSION_TOKEN"
	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID   = "TELEGRAM_CHAT_ID"
)

const (
	DefaultBaseURL                = "http://localhost:8000"
	DefaultSessionCookie          = "access_token"
	DefaultRequestTimeoutSeconds  = 10
	DefaultReconnectDelaySeconds  = 5
	DefaultNotificationCooldownMs = 2000
	DefaultDevServerHost          = "127.0.0.1"
	DefaultDevServerPort          = 8000
	DefaultDevServerMessageRate   = 10
	DefaultDevServerMessageBurst  = 20
)

// Config is the root runtime configuration loaded from config.json or
// config.toml.
type Config struct {
	Server        ServerConfig        `json:"server" toml:"server"`
	Conversation  ConversationConfig  `json:"conversation" toml:"conversation"`
	ChatList      ChatListConfig      `json:"chat_list" toml:"chat_list"`
	Notifications NotificationsConfig `json:"notifications" toml:"notifications"`
	DevServer     DevServerConfig     `json:"devserver" toml:"devserver"`
	Logging       LoggingConfig       `json:"logging,omitempty" toml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" toml:"format,omitempty"`
	Level     string `json:"level,omitempty" toml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" toml:"add_source,omitempty"`
	File      string `json:"file,omitempty" toml:"file,omitempty"`
}

// ServerConfig locates the chat server and carries the session used for
// same-origin requests.
type ServerConfig struct {
	BaseURL string `json:"base_url" toml:"base_url"`
	// WSBaseURL pins the websocket origin. When empty it is derived from BaseURL.
	WSBaseURL             string `json:"ws_base_url,omitempty" toml:"ws_base_url,omitempty"`
	SessionCookie         string `json:"session_cookie" toml:"session_cookie"`
	SessionToken          string `json:"session_token,omitempty" toml:"session_token,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" toml:"request_timeout_seconds"`
}

// ConversationConfig configures the single-conversation view.
type ConversationConfig struct {
	ShowUsername          bool `json:"show_username" toml:"show_username"`
	AutoReconnect         bool `json:"auto_reconnect" toml:"auto_reconnect"`
	ReconnectDelaySeconds int  `json:"reconnect_delay_seconds" toml:"reconnect_delay_seconds"`
	MaxReconnectAttempts  int  `json:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
}

// ChatListConfig configures the aggregate chat-list view.
type ChatListConfig struct {
	AutoReconnect         bool `json:"auto_reconnect" toml:"auto_reconnect"`
	ReconnectDelaySeconds int  `json:"reconnect_delay_seconds" toml:"reconnect_delay_seconds"`
	MaxReconnectAttempts  int  `json:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
}

// NotificationsConfig controls chat-list alerts.
type NotificationsConfig struct {
	CooldownMillis int            `json:"cooldown_ms" toml:"cooldown_ms"`
	Bell           bool           `json:"bell" toml:"bell"`
	Telegram       TelegramConfig `json:"telegram" toml:"telegram"`
}

// TelegramConfig configures relaying chat-list alerts to a Telegram chat.
type TelegramConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Token   string `json:"token" toml:"token"`
	ChatID  int64  `json:"chat_id" toml:"chat_id"`
}

// DevServerConfig configures the bundled development server.
type DevServerConfig struct {
	Host         string  `json:"host" toml:"host"`
	Port         int     `json:"port" toml:"port"`
	MessageRate  float64 `json:"message_rate" toml:"message_rate"`
	MessageBurst int     `json:"message_burst" toml:"message_burst"`
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:               DefaultBaseURL,
			SessionCookie:         DefaultSessionCookie,
			RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
		},
		Conversation: ConversationConfig{
			ShowUsername:          true,
			AutoReconnect:         false,
			ReconnectDelaySeconds: DefaultReconnectDelaySeconds,
		},
		ChatList: ChatListConfig{
			AutoReconnect:         true,
			ReconnectDelaySeconds: DefaultReconnectDelaySeconds,
		},
		Notifications: NotificationsConfig{
			CooldownMillis: DefaultNotificationCooldownMs,
			Bell:           true,
		},
		DevServer: DevServerConfig{
			Host:         DefaultDevServerHost,
			Port:         DefaultDevServerPort,
			MessageRate:  DefaultDevServerMessageRate,
			MessageBurst: DefaultDevServerMessageBurst,
		},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and
// applies environment overrides. A missing config file is not an error.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom is LoadConfig with an explicit path taking precedence over
// CHATSYNC_CONFIG and the cwd fallbacks.
func LoadConfigFrom(path string) (*Config, error) {
	loadDotEnv()

	cfg := Default()

	configPath, err := findConfigPath(path)
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := decodeConfigFile(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// decodeConfigFile unmarshals path over cfg, picking the format by extension.
func decodeConfigFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks fields that cannot be defaulted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		return errors.New("server.base_url cannot be empty")
	}
	if c.Conversation.MaxReconnectAttempts < 0 || c.ChatList.MaxReconnectAttempts < 0 {
		return errors.New("max_reconnect_attempts must be >= 0")
	}
	if c.Notifications.Telegram.Enabled {
		if strings.TrimSpace(c.Notifications.Telegram.Token) == "" {
			return errors.New("notifications.telegram.token is required when telegram is enabled")
		}
		if c.Notifications.Telegram.ChatID == 0 {
			return errors.New("notifications.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the process environment win.
func loadDotEnv() {
	_ = godotenv.Load()
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if value := strings.TrimSpace(os.Getenv(envBaseURL)); value != "" {
		cfg.Server.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv(envWSBaseURL)); value != "" {
		cfg.Server.WSBaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv(envSessionToken)); value != "" {
		cfg.Server.SessionToken = value
	}
	if value := strings.TrimSpace(os.Getenv(envTelegramBotToken)); value != "" {
		cfg.Notifications.Telegram.Token = value
	}
	if value := strings.TrimSpace(os.Getenv(envTelegramChatID)); value != "" {
		chatID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envTelegramChatID, err)
		}
		cfg.Notifications.Telegram.ChatID = chatID
	}

	return nil
}

// applyDefaults repairs zero values a config file may have written explicitly.
func applyDefaults(cfg *Config) {
	cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	cfg.Server.WSBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.WSBaseURL), "/")
	if strings.TrimSpace(cfg.Server.SessionCookie) == "" {
		cfg.Server.SessionCookie = DefaultSessionCookie
	}
	if cfg.Server.RequestTimeoutSeconds <= 0 {
		cfg.Server.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if cfg.Conversation.ReconnectDelaySeconds <= 0 {
		cfg.Conversation.ReconnectDelaySeconds = DefaultReconnectDelaySeconds
	}
	if cfg.ChatList.ReconnectDelaySeconds <= 0 {
		cfg.ChatList.ReconnectDelaySeconds = DefaultReconnectDelaySeconds
	}
	if cfg.Notifications.CooldownMillis <= 0 {
		cfg.Notifications.CooldownMillis = DefaultNotificationCooldownMs
	}
	if cfg.DevServer.MessageRate <= 0 {
		cfg.DevServer.MessageRate = DefaultDevServerMessageRate
	}
	if cfg.DevServer.MessageBurst <= 0 {
		cfg.DevServer.MessageBurst = DefaultDevServerMessageBurst
	}
	if strings.TrimSpace(cfg.DevServer.Host) == "" {
		cfg.DevServer.Host = DefaultDevServerHost
	}
	if cfg.DevServer.Port <= 0 {
		cfg.DevServer.Port = DefaultDevServerPort
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is the explicit path, then CHATSYNC_CONFIG, then cwd-local
// fallback paths. An empty result means no file was found.
func findConfigPath(explicit string) (string, error) {
	for _, source := range []struct{ name, value string }{
		{"--config", explicit},
		{envConfigPath, os.Getenv(envConfigPath)},
	} {
		value := strings.TrimSpace(source.value)
		if value == "" {
			continue
		}
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", source.name, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config.toml"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config", "config.toml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
