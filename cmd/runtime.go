package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chatsync/pkg/api"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/notify"
	"chatsync/pkg/notify/telegram"
	"chatsync/pkg/session"
)

const tuiLogFileName = "chatsync.log"

// runtime carries what every command loads before doing its work.
type runtime struct {
	cfg    *config.Config
	log    *slog.Logger
	closer io.Closer
}

func (r *runtime) Close() {
	if r.closer != nil {
		_ = r.closer.Close()
	}
}

// loadRuntime loads configuration and installs the default logger. Full
// screen commands log to a file unless one is configured, so log lines do
// not tear the screen.
func loadRuntime(component string, fullScreen bool) (*runtime, error) {
	cfg, err := config.LoadConfigFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := cfg.Logging
	if fullScreen && strings.TrimSpace(logCfg.File) == "" {
		logCfg.File = defaultTUILogFile()
	}

	appLogger, closer, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return &runtime{
		cfg:    cfg,
		log:    slog.Default().With("component", component),
		closer: closer,
	}, nil
}

func defaultTUILogFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chatsync", tuiLogFileName)
}

func (r *runtime) apiClient() (*api.Client, error) {
	client, err := api.New(r.cfg.Server, r.log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize api client: %w", err)
	}
	return client, nil
}

// alerter builds the chat-list alert fan-out from the notifications config.
// It returns nil when every sink is disabled.
func (r *runtime) alerter() (notify.Alerter, error) {
	var alerters notify.Multi
	if r.cfg.Notifications.Bell {
		alerters = append(alerters, notify.DefaultBell())
	}
	if r.cfg.Notifications.Telegram.Enabled {
		relay, err := telegram.NewRelay(r.cfg.Notifications.Telegram, r.log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram relay: %w", err)
		}
		alerters = append(alerters, relay)
	}

	if len(alerters) == 0 {
		return nil, nil
	}
	return alerters, nil
}

// redirectURL renders where a terminal error sends the user, or "".
func redirectURL(baseURL string, err error) string {
	target := session.Redirect(err)
	if target == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + target
}

func parseUserID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", value)
	}
	return id, nil
}

func formatUser(user api.User) string {
	line := fmt.Sprintf("%d\t%s", user.Identity(), user.Username)
	if user.Profile != nil {
		name := strings.TrimSpace(user.Profile.FirstName + " " + user.Profile.LastName)
		if name != "" {
			line += "\t" + name
		}
	}
	if avatar := user.AvatarURL(); avatar != "" {
		line += "\t" + avatar
	}
	return line
}
