package cli

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/synk/internal/client/client"
	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/spf13/cobra"
)

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create the configured account on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(rootOpts, cmd)
		},
	}
}

func runRegister(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	user := opts.config.Username
	if user == "" {
		return errNoUser
	}

	pw, err := getPassword(cmd.ErrOrStderr(), fmt.Sprintf("New password for %s: ", user))
	if err != nil {
		return err
	}

	c, err := client.NewHTTPClient(opts.config.ServerURL, "", "", opts.config.Timeout)
	if err != nil {
		return err
	}

	if err := c.Register(ctx, user, pw); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return fmt.Errorf("account %q already exists", user)
		}
		return fmt.Errorf("register: %w", err)
	}

	opts.logger.Info(ctx, "account registered", "user", user)
	fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", user)
	return nil
}
