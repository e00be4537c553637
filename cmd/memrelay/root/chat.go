package root

import (
	"strings"

	"github.com/spf13/cobra"

	"memrelay/internal/llm"
	"memrelay/pkg/app"
)

var (
	chatModel    string
	chatSystem   string
	chatRaw      bool
	chatJSON     bool
	chatNoStream bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat with the configured model from your terminal",
	Long:  "Answers a single prompt when one is given, otherwise starts an interactive session. Type :help for local commands.",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if chatModel != "" {
			cfg.LLM.Model = chatModel
		}
		if chatNoStream {
			cfg.LLM.Streaming = false
		}
		if err := llm.CheckKeyFormat(cfg.LLM.Provider, cfg.LLM.APIKey); err != nil {
			return err
		}

		opts := []app.Option{app.WithIO(cmd.InOrStdin(), cmd.OutOrStdout())}
		if chatSystem != "" {
			opts = append(opts, app.WithSystemPrompt(chatSystem))
		}
		if chatRaw {
			opts = append(opts, app.WithRawOutput())
		}
		if chatJSON {
			opts = append(opts, app.WithJSONMode())
		}
		a := app.New(llm.New(cfg.LLM, nil), opts...)
		return a.Run(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model name (default from config)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "System prompt")
	chatCmd.Flags().BoolVar(&chatRaw, "raw", false, "Print answers without markdown rendering")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Ask for JSON and print the extracted value")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "Disable streaming responses")
}
