package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/parkbot/authflow/pkg/credentials"
	"github.com/parkbot/authflow/pkg/vault"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached session and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			env := credentials.Detect()

			rows := pterm.TableData{
				{"Environment", string(env.Mode)},
				{"Headless", fmt.Sprintf("%t", env.Headless)},
				{"Ephemeral sessions", fmt.Sprintf("%t", env.EphemeralSessions)},
			}
			if len(env.BrowserArgs) > 0 {
				rows = append(rows, []string{"Browser args", strings.Join(env.BrowserArgs, " ")})
			}

			vlt, err := vault.New()
			if err != nil {
				return err
			}
			sess, err := vlt.Load()
			switch {
			case err != nil:
				rows = append(rows, []string{"Session", "none"})
			case sess.Valid(time.Now()):
				rows = append(rows,
					[]string{"Session", "valid"},
					[]string{"MFA method", orDash(sess.MFAMethod)},
					[]string{"Session age", sess.Age(time.Now()).Round(time.Second).String()},
				)
				if sess.Expiry != nil {
					rows = append(rows, []string{"Expires", sess.Expiry.Local().Format(time.RFC1123)})
				}
			default:
				rows = append(rows, []string{"Session", "expired"})
			}

			return pterm.DefaultTable.WithData(rows).Render()
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the cached session",
		RunE: func(cmd *cobra.Command, args []string) error {
			vlt, err := vault.New()
			if err != nil {
				return err
			}
			if err := vlt.Clear(); err != nil {
				return err
			}
			pterm.Success.Println("Session cleared.")
			return nil
		},
	}
}
