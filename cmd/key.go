package cmd

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietgrid/hlgateway/pkg/cache"
	"github.com/quietgrid/hlgateway/pkg/config"
	"github.com/quietgrid/hlgateway/pkg/highlight"
)

var keyCredentialsPath string

func init() {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Print the API key from saved credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			var creds highlight.LoginResult
			if err := cache.LoadJSON(keyCredentialsPath, &creds); err != nil {
				if errors.Is(err, cache.ErrNotFound) {
					return fmt.Errorf("no credentials at %s, run 'hlgw login' first", keyCredentialsPath)
				}
				return err
			}
			if creds.RefreshToken == "" {
				return fmt.Errorf("credentials at %s are missing the refresh token", keyCredentialsPath)
			}
			raw, err := json.Marshal(creds)
			if err != nil {
				return fmt.Errorf("encode credentials: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(raw))
			return nil
		},
	}
	keyCmd.Flags().StringVar(&keyCredentialsPath, "credentials", config.DefaultCredentialsPath(), "Credential bundle path")
	rootCmd.AddCommand(keyCmd)
}
