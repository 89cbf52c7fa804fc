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

var (
	friendsSearch string
	friendsPage   int
	friendsLimit  int
	friendsAll    bool
)

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "List friends or search users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if friendsPage < 1 {
			return fmt.Errorf("invalid page %d", friendsPage)
		}

		rt, err := loadRuntime("cmd.friends", false)
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

		pager := client.Friends(friendsLimit)
		if friendsSearch != "" {
			pager = client.Search(friendsSearch)
		}

		err = printPages(ctx, cmd.OutOrStdout(), pager, friendsPage, friendsAll)
		if target := redirectURL(rt.cfg.Server.BaseURL, err); target != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "redirect: %s\n", target)
			return nil
		}
		return err
	},
}

func init() {
	friendsCmd.Flags().StringVarP(&friendsSearch, "search", "s", "", "search users by name instead of listing friends")
	friendsCmd.Flags().IntVarP(&friendsPage, "page", "p", 1, "page to print")
	friendsCmd.Flags().IntVar(&friendsLimit, "limit", 0, "friends per page (server default when 0)")
	friendsCmd.Flags().BoolVar(&friendsAll, "all", false, "print every page")
	rootCmd.AddCommand(friendsCmd)
}

// printPages walks the pager up to page, or to exhaustion when all is set,
// printing the requested users one per line.
func printPages(ctx context.Context, out io.Writer, pager *api.FriendPager, page int, all bool) error {
	printed := 0
	for pager.HasMore() {
		users, err := pager.Next(ctx)
		if err != nil {
			return err
		}
		if !all && pager.Page() < page {
			continue
		}
		for _, user := range users {
			fmt.Fprintln(out, formatUser(user))
			printed++
		}
		if !all {
			break
		}
	}

	if printed == 0 {
		fmt.Fprintln(out, "no users")
	}
	return nil
}
