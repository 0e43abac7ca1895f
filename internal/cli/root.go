// Package cli implements the pointsd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "pointsd",
	Short: "Points ledger and voucher service for the village NOC portal",
	Long: `pointsd runs the points subsystem of the village NOC portal: the
append-only point ledger with commission distribution, signed credit
vouchers, and shared-login operator PIN authentication.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pointsd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pointsd %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
