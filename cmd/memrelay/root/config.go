package root

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"memrelay/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage memrelay configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config at the default location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfigPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteDefault(path, configForce); err != nil {
			return err
		}
		logrus.WithField("path", path).Info("wrote config")
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective bridge settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		token := "(unset)"
		if cfg.Bridge.Token != "" {
			token = "(set)"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "url:            %s\n", cfg.Bridge.URL)
		fmt.Fprintf(out, "token:          %s\n", token)
		fmt.Fprintf(out, "timeout:        %s\n", cfg.Bridge.Timeout)
		fmt.Fprintf(out, "session header: %s\n", cfg.Bridge.SessionHeader)
		fmt.Fprintf(out, "llm provider:   %s\n", cfg.LLM.Provider)
		fmt.Fprintf(out, "llm base url:   %s\n", cfg.LLM.BaseURL)
		fmt.Fprintf(out, "llm model:      %s\n", cfg.LLM.Model)
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(out, "problem:        %v\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config if present")
}
