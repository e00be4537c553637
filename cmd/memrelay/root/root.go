package root

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"memrelay/internal/bridge"
	"memrelay/internal/config"
)

var (
	flagConfigPath  string
	flagURL         string
	flagToken       string
	flagTimeout     string
	flagMetricsFile string
)

// rootCmd relays stdio JSON-RPC to the memory server.
var rootCmd = &cobra.Command{
	Use:   "memrelay",
	Short: "Relay a stdio MCP client to a streamable-HTTP memory server",
	Long: "memrelay reads newline-delimited JSON-RPC from stdin, POSTs each message to the configured MCP endpoint " +
		"and writes replies to stdout. Settings come from ~/.config/memrelay/config.yaml, the environment and flags.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		var reg *prometheus.Registry
		if flagMetricsFile != "" {
			reg = prometheus.NewRegistry()
		}
		opts := bridge.Options{
			URL:           cfg.Bridge.URL,
			Token:         cfg.Bridge.Token,
			Timeout:       cfg.Bridge.Timeout,
			SessionHeader: cfg.Bridge.SessionHeader,
		}
		if reg != nil {
			opts.Registerer = reg
		}
		b, err := bridge.New(opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runErr := b.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())

		if reg != nil {
			if err := prometheus.WriteToTextfile(flagMetricsFile, reg); err != nil {
				logrus.WithError(err).WithField("file", flagMetricsFile).Warn("failed to write metrics")
			} else {
				logrus.WithField("file", flagMetricsFile).Info("metrics written")
			}
		}
		return runErr
	},
}

// loadConfig layers the config file, the environment and any flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Bridge.URL = flagURL
	}
	if flags.Changed("token") {
		cfg.Bridge.Token = flagToken
	}
	if flags.Changed("timeout") {
		d, err := config.ParseTimeout(flagTimeout)
		if err != nil {
			return cfg, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Bridge.Timeout = d
	}
	logrus.WithFields(logrus.Fields{"config": path, "url": cfg.Bridge.URL, "timeout": cfg.Bridge.Timeout}).Debug("configuration loaded")
	return cfg, nil
}

// Execute runs the Cobra root command.
func Execute() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	// Load environment from .env if present and configure logger
	_ = godotenv.Load()
	level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if level == "" && (os.Getenv("DEBUG") == "1" || strings.EqualFold(os.Getenv("DEBUG"), "true")) {
		level = "debug"
	}
	switch level {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	// stdout carries protocol frames.
	logrus.SetOutput(os.Stderr)

	// Optional file logging via LOG_FILE. If set, duplicate output to file.
	if lf := strings.TrimSpace(os.Getenv("LOG_FILE")); lf != "" {
		if strings.HasPrefix(lf, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				lf = filepath.Join(home, strings.TrimPrefix(lf, "~"))
			}
		}
		if err := os.MkdirAll(filepath.Dir(lf), 0o755); err == nil {
			f, err := os.OpenFile(lf, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				defer f.Close()
				logrus.SetOutput(io.MultiWriter(os.Stderr, f))
				logrus.WithField("file", lf).Info("logging to file enabled")
			} else {
				logrus.WithError(err).Warn("failed to open LOG_FILE; using stderr only")
			}
		} else {
			logrus.WithError(err).Warn("failed to create directory for LOG_FILE; using stderr only")
		}
	}

	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file (default ~/.config/memrelay/config.yaml)")
	rootCmd.Flags().StringVar(&flagURL, "url", config.DefaultURL, "MCP endpoint to POST messages to")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "Bearer token for the memory server")
	rootCmd.Flags().StringVar(&flagTimeout, "timeout", config.DefaultTimeout.String(), "Per-request timeout (duration or seconds)")
	rootCmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
}
