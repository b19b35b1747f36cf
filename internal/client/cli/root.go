package cli

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/synk/internal/client/config"
	"github.com/dmitrijs2005/synk/internal/logging"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	ServerURL  string
	Username   string
	DBPath     string
	Timeout    time.Duration
	Verbose    bool

	config *config.Config
	logger logging.Logger
}

// NewRootCommand creates the root command for synkctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "synkctl",
		Short:         "synkctl - keep item statuses in sync with a synk server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML or JSON config file")
	pf.StringVarP(&opts.ServerURL, "server", "s", "", "server base URL")
	pf.StringVarP(&opts.Username, "user", "u", "", "account name")
	pf.StringVar(&opts.DBPath, "db", "", "path to the local store")
	pf.DurationVar(&opts.Timeout, "timeout", 0, "per-request timeout")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "log progress to stderr")

	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}

// resolve loads the config file and overlays the flags the user set.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.ServerURL = o.ServerURL
	}
	if flags.Changed("user") {
		cfg.Username = o.Username
	}
	if flags.Changed("db") {
		cfg.DBPath = o.DBPath
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.Timeout
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	o.config = cfg
	o.logger = logging.NewJSON(cmd.ErrOrStderr(), level).With("module", "synkctl")
	return nil
}
