package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatsync/pkg/api"
)

var profileCmd = &cobra.Command{
	Use:   "profile [user-id]",
	Short: "Show the current user or another user's profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var userID int64
		if len(args) == 1 {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			userID = id
		}

		rt, err := loadRuntime("cmd.profile", false)
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

		err = showProfile(ctx, cmd.OutOrStdout(), client, userID)
		if target := redirectURL(rt.cfg.Server.BaseURL, err); target != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "redirect: %s\n", target)
			return nil
		}
		return err
	},
}

var addFriendCmd = &cobra.Command{
	Use:   "add-friend <user-id>",
	Short: "Add a user to the current user's friends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		rt, err := loadRuntime("cmd.add_friend", false)
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

		err = client.AddFriend(ctx, userID)
		if target := redirectURL(rt.cfg.Server.BaseURL, err); target != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "redirect: %s\n", target)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "added friend %d\n", userID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(addFriendCmd)
}

// showProfile prints the current user when userID is zero, otherwise the
// other user's profile along with the friendship flag.
func showProfile(ctx context.Context, out io.Writer, client *api.Client, userID int64) error {
	if userID == 0 {
		me, err := client.CurrentUser(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, formatUser(me))
		return nil
	}

	user, err := client.UserProfile(ctx, userID)
	if err != nil {
		return err
	}
	friend, err := client.IsFriend(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, formatUser(user))
	fmt.Fprintf(out, "friend: %t\n", friend)
	return nil
}
