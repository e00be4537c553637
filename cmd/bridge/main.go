// Command bridge is the minimal stdio-to-HTTP relay for assistant configs
// that launch a bare executable with a few flags. It reads no config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"memrelay/internal/bridge"
	"memrelay/internal/config"
)

func main() {
	_ = godotenv.Load()

	var token, url string
	var timeout time.Duration

	flag.StringVar(&token, "token", os.Getenv("MEMRELAY_TOKEN"), "Bearer token for the memory server")
	flag.StringVar(&url, "url", envOr("MEMRELAY_URL", config.DefaultURL), "MCP endpoint to POST messages to")
	flag.DurationVar(&timeout, "timeout", config.DefaultTimeout, "Per-request timeout")
	flag.Parse()

	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(lvl)
	}

	if token == "" {
		fmt.Fprintln(os.Stderr, "usage: bridge -token <token> [-url <endpoint>] [-timeout 120s]")
		os.Exit(2)
	}

	logrus.WithFields(logrus.Fields{
		"url":     url,
		"timeout": timeout,
	}).Info("starting bridge")

	b, err := bridge.New(bridge.Options{URL: url, Token: token, Timeout: timeout})
	if err != nil {
		logrus.Fatalf("bridge init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := b.Run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "bridge error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
