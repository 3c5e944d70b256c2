package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qopy-app/qopy/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the server configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration the server would run with, after merging the
config file, environment variables, and defaults. The admin token is redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(GetConfigFile())
		if err != nil {
			return err
		}

		if cfg.Admin.Token != "" {
			cfg.Admin.Token = "<redacted>"
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		cmd.Print(string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
