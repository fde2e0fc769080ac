package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quietgrid/hlgateway/pkg/config"
	"github.com/quietgrid/hlgateway/pkg/proxy"
)

var (
	serveConfigPath         string
	serveListenAddrOverride string
	serveUpstreamOverride   string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreateServerConfig(serveConfigPath)
			if err != nil {
				return fmt.Errorf("load server config: %w", err)
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}
			if cmd.Flags().Changed("upstream-base-url") {
				cfg.UpstreamBaseURL = serveUpstreamOverride
			}
			if v := os.Getenv("HLGW_UPSTREAM_BASE_URL"); v != "" && !cmd.Flags().Changed("upstream-base-url") {
				cfg.UpstreamBaseURL = v
			}
			cfg.Normalize()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			srv, err := proxy.NewServer(serveConfigPath, cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:8087)")
	serveCmd.Flags().StringVar(&serveUpstreamOverride, "upstream-base-url", "", "Override the chat backend base URL")
	rootCmd.AddCommand(serveCmd)
}
