package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatsync/pkg/api"
	"chatsync/pkg/session"
	"chatsync/pkg/ui/chat"
	"chatsync/pkg/view"
)

var chatCmd = &cobra.Command{
	Use:   "chat <recipient-id>",
	Short: "Open a live conversation with one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipientID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		rt, err := loadRuntime("cmd.chat", true)
		if err != nil {
			return err
		}
		defer rt.Close()

		client, err := rt.apiClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runConversation(ctx, cmd, rt, client, recipientID)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// runConversation resolves both users, then runs the conversation screen.
// Redirects are printed rather than returned as failures.
func runConversation(ctx context.Context, cmd *cobra.Command, rt *runtime, client *api.Client, recipientID int64) error {
	out := cmd.OutOrStdout()
	baseURL := rt.cfg.Server.BaseURL

	me, err := client.CurrentUser(ctx)
	if err != nil {
		if target := redirectURL(baseURL, err); target != "" {
			fmt.Fprintf(out, "redirect: %s\n", target)
			return nil
		}
		return err
	}

	recipient, err := client.UserProfile(ctx, recipientID)
	if err != nil {
		if target := redirectURL(baseURL, err); target != "" {
			fmt.Fprintf(out, "redirect: %s\n", target)
			return nil
		}
		return err
	}

	transport, err := session.TransportFromConfig(rt.cfg.Server, client)
	if err != nil {
		return err
	}

	opts := chat.Options{Title: recipient.Username, SelfID: me.Identity()}
	err = chat.Run(ctx, opts, func(surface view.ConversationSurface) (chat.Session, error) {
		return session.NewConversation(rt.cfg.Conversation, recipientID, transport, surface, rt.log)
	})
	if target := redirectURL(baseURL, err); target != "" {
		fmt.Fprintf(out, "redirect: %s\n", target)
		return nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.log.Error("Conversation ended with error", "recipient_id", recipientID, "error", err)
		return err
	}

	return nil
}
