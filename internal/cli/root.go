package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Swind/go-taskqueue/internal/config"
)

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

// NewRootCommand builds the tqdemo command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "tqdemo",
		Short: "Drive a multi-priority task queue scheduler",
		Long: `tqdemo runs prioritized task queues on a single main loop and
exposes their state for inspection. Configuration comes from an optional
YAML file plus ` + config.EnvPrefix + `_* environment overrides.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (YAML)")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newInspectConfigCommand(opts))
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

func newInspectConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-config",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return nil
		},
	}
}
