package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietgrid/hlgateway/pkg/version"
)

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("hlgw"))
		},
	}
	rootCmd.AddCommand(versionCmd)
}
