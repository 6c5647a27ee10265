// Package cmd implements the CLI commands for clawkeeper.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clawkeeper",
	Short: "Keep a ClawCloud Run console session signed in",
	Long: `clawkeeper drives an unattended browser sign-in to the ClawCloud Run
console through its GitHub OAuth flow, coordinates device-verification
and two-factor challenges with a human operator over Telegram, and
rotates the resulting session cookie into a GitHub Actions secret.

Configuration comes from the environment (a .env file is honored) or an
optional clawkeeper.yaml. Run "clawkeeper doctor" to check the setup.`,
	SilenceUsage: true,
}

// Execute runs the root command with signal-aware cancellation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
