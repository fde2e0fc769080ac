package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quietgrid/hlgateway/pkg/cache"
	"github.com/quietgrid/hlgateway/pkg/config"
	"github.com/quietgrid/hlgateway/pkg/highlight"
)

var (
	loginUpstreamBaseURL string
	loginCredentialsPath string
)

func init() {
	loginCmd := &cobra.Command{
		Use:   "login <code>",
		Short: "Redeem a Highlight authorization code for an API key",
		Long: "Redeems a one-time authorization code from highlightai.com, registers this client, " +
			"and prints the base64 API key to use against the gateway.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client := highlight.NewClient(loginUpstreamBaseURL)
			clientUUID := uuid.NewString()

			accessToken, refreshToken, err := client.ExchangeCode(ctx, args[0], uuid.NewString())
			if err != nil {
				return fmt.Errorf("exchange authorization code: %w", err)
			}
			if err := client.RegisterClient(ctx, accessToken, clientUUID); err != nil {
				log.Warn("client registration failed, continuing", "err", err)
			}
			userID, email, err := client.Profile(ctx, accessToken)
			if err != nil {
				return fmt.Errorf("fetch profile: %w", err)
			}

			creds := highlight.LoginResult{
				RefreshToken: refreshToken,
				UserID:       userID,
				Email:        email,
				ClientUUID:   clientUUID,
			}
			if err := cache.SaveJSON(loginCredentialsPath, creds); err != nil {
				log.Warn("could not save credentials", "path", loginCredentialsPath, "err", err)
			}

			raw, err := json.Marshal(creds)
			if err != nil {
				return fmt.Errorf("encode credentials: %w", err)
			}
			log.Info("login succeeded", "user", userID, "email", email)
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(raw))
			return nil
		},
	}
	loginCmd.Flags().StringVar(&loginUpstreamBaseURL, "upstream-base-url", config.DefaultUpstreamBaseURL, "Chat backend base URL")
	loginCmd.Flags().StringVar(&loginCredentialsPath, "credentials", config.DefaultCredentialsPath(), "Where to save the credential bundle")
	rootCmd.AddCommand(loginCmd)
}
