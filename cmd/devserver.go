package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatsync/pkg/devserver"
)

var (
	devserverHost string
	devserverPort int
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local chat server with seeded users",
	Long: `devserver serves the chat HTTP endpoints and websocket channels from an
in-memory store seeded with alice, bob and carol. Each user's session token is
"<username>-token".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime("cmd.devserver", false)
		if err != nil {
			return err
		}
		defer rt.Close()

		cfg := rt.cfg.DevServer
		if devserverHost != "" {
			cfg.Host = devserverHost
		}
		if devserverPort > 0 {
			cfg.Port = devserverPort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := devserver.New(devserver.SeedStore(), rt.cfg.Server.SessionCookie, rt.log).
			WithMessageRate(cfg.MessageRate, cfg.MessageBurst)
		rt.log.Info("Dev server starting", "host", cfg.Host, "port", cfg.Port)
		if err := server.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
			rt.log.Error("Dev server stopped with error", "error", err)
			return err
		}

		rt.log.Info("Dev server stopped")
		return nil
	},
}

func init() {
	devserverCmd.Flags().StringVar(&devserverHost, "host", "", "listen host (overrides devserver.host)")
	devserverCmd.Flags().IntVar(&devserverPort, "port", 0, "listen port (overrides devserver.port)")
	rootCmd.AddCommand(devserverCmd)
}
