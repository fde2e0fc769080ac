package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quietgrid/hlgateway/pkg/logutil"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "hlgw",
	Short: "OpenAI-compatible gateway for Highlight AI",
	Long:  "hlgw exposes the Highlight AI chat backend through an OpenAI-compatible API, plus a generic alias proxy for other providers.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return logutil.Configure(logLevel)
	}
}
