package cli

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/synk/internal/client/client"
	"github.com/dmitrijs2005/synk/internal/client/services"
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes, then pull remote ones",
		Long: `Push every pending local change to the server, then pull the items
changed since the last sync and merge them into the local store.

With --full the whole collection is pulled and local items the server no
longer has are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return rootOpts.withSync(ctx, cmd.ErrOrStderr(), func(svc services.SyncService) error {
				push, pull, err := svc.Sync(ctx, full)
				if err != nil {
					return err
				}
				rootOpts.logger.Debug(ctx, "sync finished", "marker", pull.Marker)
				fmt.Fprintf(cmd.OutOrStdout(), "pushed: %d added, %d updated, %d deleted\n", push.Added, push.Updated, push.Deleted)
				printPull(cmd, pull)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "pull the whole collection")
	return cmd
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull remote changes without pushing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return rootOpts.withSync(ctx, cmd.ErrOrStderr(), func(svc services.SyncService) error {
				res, err := svc.Pull(ctx, full)
				if err != nil {
					return err
				}
				printPull(cmd, res)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "pull the whole collection")
	return cmd
}

func printPull(cmd *cobra.Command, res services.PullResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "pulled: %d fetched, %d applied, %d pruned\n", res.Fetched, res.Applied, res.Pruned)
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server and its storage are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := rootOpts.config
			c, err := client.NewHTTPClient(cfg.ServerURL, "", "", cfg.Timeout)
			if err != nil {
				return err
			}
			if err := c.Ping(ctx); err != nil {
				return fmt.Errorf("ping %s: %w", rootOpts.config.ServerURL, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is healthy\n", rootOpts.config.ServerURL)
			return nil
		},
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the account credentials against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.newClient(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := c.Verify(cmd.Context()); err != nil {
				if errors.Is(err, client.ErrUnauthorized) {
					return fmt.Errorf("credentials for %s rejected", rootOpts.config.Username)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s authenticated at %s\n", rootOpts.config.Username, rootOpts.config.ServerURL)
			return nil
		},
	}
}
