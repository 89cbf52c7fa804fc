package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatsync/pkg/session"
	"chatsync/pkg/ui/chatlist"
	"chatsync/pkg/view"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Watch the live chat list and open a conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime("cmd.chats", true)
		if err != nil {
			return err
		}
		defer rt.Close()

		client, err := rt.apiClient()
		if err != nil {
			return err
		}
		alerter, err := rt.alerter()
		if err != nil {
			return err
		}
		transport, err := session.TransportFromConfig(rt.cfg.Server, client)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		chosen, err := chatlist.Run(ctx, func(surface view.ChatListSurface) (chatlist.Session, error) {
			return session.NewChatList(*rt.cfg, transport, client, surface, alerter, rt.log)
		})
		if target := redirectURL(rt.cfg.Server.BaseURL, err); target != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "redirect: %s\n", target)
			return nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			rt.log.Error("Chat list ended with error", "error", err)
			return err
		}

		if chosen == nil || chosen.Recipient.ID == 0 {
			return nil
		}
		return runConversation(ctx, cmd, rt, client, chosen.Recipient.ID)
	},
}

func init() {
	rootCmd.AddCommand(chatsCmd)
}
