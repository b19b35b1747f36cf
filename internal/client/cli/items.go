package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/synk/internal/client/models"
	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/spf13/cobra"
)

// now is a test seam for the clock stamping local changes.
var now = time.Now

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	var at int64

	cmd := &cobra.Command{
		Use:   "set <id> <status>",
		Short: "Record a status for an item locally",
		Long: `Record a status for an item in the local store.

The change is stamped with the current time unless --at is given and is
sent to the server by the next sync.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("status %q is not an integer", args[1])
			}
			if at == 0 {
				at = now().Unix()
			}
			return runSet(rootOpts, cmd, models.Item{ID: args[0], Status: status, LastChanged: at})
		},
	}

	cmd.Flags().Int64Var(&at, "at", 0, "last_changed in unix seconds (default now)")
	return cmd
}

func runSet(opts *RootOptions, cmd *cobra.Command, it models.Item) error {
	ctx := cmd.Context()

	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Put(ctx, it); err != nil {
		return err
	}

	opts.logger.Debug(ctx, "item recorded", "id", it.ID, "status", it.Status, "last_changed", it.LastChanged)
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %d\n", it.ID, it.Status)
	return nil
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an item locally and on the next sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(rootOpts, cmd, args[0])
		},
	}
}

func runRemove(opts *RootOptions, cmd *cobra.Command, id string) error {
	ctx := cmd.Context()

	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Remove(ctx, id, now().Unix()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("item %s not found", id)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
	return nil
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the items in the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON array instead of a table")
	return cmd
}

func runList(opts *RootOptions, cmd *cobra.Command, asJSON bool) error {
	ctx := cmd.Context()

	st, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	items, err := st.All(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		if items == nil {
			items = []models.Item{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(items)
	}
	return printItems(cmd.OutOrStdout(), items)
}

func printItems(w io.Writer, items []models.Item) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "no items")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tLAST CHANGED")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", it.ID, it.Status, it.LastChanged)
	}
	return tw.Flush()
}
