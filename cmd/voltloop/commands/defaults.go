package commands

import (
	"fmt"
	"sort"

	"github.com/jzx17/voltloop/pkg/config"
	"github.com/jzx17/voltloop/pkg/engine/voltage"
	"github.com/spf13/cobra"
)

func newDefaultsCommand() *cobra.Command {
	var paramsOnly bool

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the default configuration as YAML",
		Long: `Print the built-in configuration as YAML. The output is a complete,
valid config file that can be edited and passed back with --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if paramsOnly {
				params := voltage.DefaultParams().Map()
				keys := make([]string, 0, len(params))
				for k := range params {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "%s: %v\n", k, params[k])
				}
				return nil
			}

			data, err := config.Marshal(config.Default())
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&paramsOnly, "params", false, "print only the engine parameters")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
			return nil
		},
	}
}
