package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/parkbot/authflow/pkg/browser"
	"github.com/parkbot/authflow/pkg/credentials"
	"github.com/parkbot/authflow/pkg/health"
	"github.com/parkbot/authflow/pkg/orchestrator"
	"github.com/parkbot/authflow/pkg/vault"
)

func newLoginCmd() *cobra.Command {
	var loginURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and cache an encrypted session",
		Long: `Authenticate against the identity provider and persist the
resulting session, encrypted, for later reuse.

A still-valid cached session is reused without driving the browser.
An expired one is refreshed cheaply when possible; the full browser
login with MFA runs only as a last resort.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cdpURL, _ := cmd.Flags().GetString("cdp-url")

			resolver := newResolver(configPath)
			creds, env, err := resolver.Resolve()
			if err != nil {
				return err
			}

			if cdpURL == "" {
				if env.IsCloud() {
					return fmt.Errorf("cloud mode requires --cdp-url pointing at a running headless Chrome")
				}
				pterm.Warning.Println("No automation endpoint configured; opening the login page for manual sign-in.")
				return browser.OpenInSystemBrowser(loginURL, os.Stdout)
			}

			vlt, err := openVault(env)
			if err != nil {
				return err
			}

			launcher := &browser.CDPLauncher{DebugAddr: cdpURL}
			ctx := context.Background()
			driver, err := launcher.Launch(ctx)
			if err != nil {
				return fmt.Errorf("connecting to browser: %w", err)
			}
			defer driver.Close()

			monitor := health.NewMonitor(driver, launcher)
			monitorCtx, stopMonitor := context.WithCancel(ctx)
			defer stopMonitor()
			go monitor.Start(monitorCtx)

			o := orchestrator.New(creds, env, vlt, launcher,
				orchestrator.WithMonitor(monitor),
				orchestrator.WithLoginURL(loginURL))

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
				spinner.WithWriter(os.Stderr))
			s.Suffix = " Authenticating..."
			s.Start()
			sess, cerr := o.Authenticate(ctx)
			s.Stop()

			if cerr != nil {
				pterm.Error.Printf("Authentication failed [%s/%s]: %s\n",
					cerr.Category, cerr.Severity, cerr.Message)
				pterm.Info.Printf("Correlation id: %s\n", cerr.ID)
				return fmt.Errorf("authentication failed")
			}

			pterm.Success.Println("Authenticated.")
			pterm.Info.Printf("MFA method: %s\n", orDash(sess.MFAMethod))
			if sess.Expiry != nil {
				pterm.Info.Printf("Session valid until: %s\n", sess.Expiry.Local().Format(time.RFC1123))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&loginURL, "login-url", orchestrator.DefaultLoginURL,
		"Identity provider login URL")

	return cmd
}

func newResolver(configPath string) *credentials.Resolver {
	var opts []credentials.Option
	if configPath != "" {
		opts = append(opts, credentials.WithConfigPath(configPath))
	}
	return credentials.NewResolver(opts...)
}

// openVault builds the session vault honoring the environment: cloud
// runners never persist sessions to disk.
func openVault(env credentials.Environment) (*vault.Vault, error) {
	if env.EphemeralSessions {
		return vault.New(vault.WithEphemeral())
	}
	return vault.New()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
