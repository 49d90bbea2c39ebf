// Package main implements the authflow CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	version = "0.3.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authflow",
		Short: "Authflow - Automated login with MFA fallback",
		Long: `Authflow drives a complete identity-provider login, including
multi-factor authentication, against a headless browser and caches the
resulting session encrypted on disk.

MFA methods are tried in order: authenticator code (TOTP), emailed
verification code, push approval. Cloud runners are detected
automatically and get stricter, non-interactive behavior.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(cmd)
		},
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug mode")
	cmd.PersistentFlags().String("config", "", "Path to local config file")
	cmd.PersistentFlags().String("cdp-url", "", "Chrome devtools endpoint, e.g. http://127.0.0.1:9222")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newTotpCmd())

	return cmd
}

func configureLogging(cmd *cobra.Command) {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelInfo
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
