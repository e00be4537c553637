package root

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"memrelay/internal/llm"
)

var (
	verifyKey      string
	verifyProvider string
)

var verifyCmd = &cobra.Command{
	Use:   "verify-key",
	Short: "Check that the configured LLM API key is accepted by the provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if verifyKey != "" {
			cfg.LLM.APIKey = verifyKey
		}
		if verifyProvider != "" {
			cfg.LLM.Provider = verifyProvider
		}
		ok, msg := llm.New(cfg.LLM, nil).VerifyKey(cmd.Context())
		out := cmd.OutOrStdout()
		if ok {
			fmt.Fprintf(out, "%s key accepted by %s\n", color.GreenString("✓"), cfg.LLM.BaseURL)
			return nil
		}
		fmt.Fprintf(out, "%s %s\n", color.RedString("✗"), msg)
		return errors.New("API key rejected")
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyKey, "key", "", "Key to check instead of the configured one")
	verifyCmd.Flags().StringVar(&verifyProvider, "provider", "", "openai or openrouter (default from config)")
}
