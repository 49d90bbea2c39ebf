package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/parkbot/authflow/pkg/totp"
)

func newTotpCmd() *cobra.Command {
	var window bool

	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Print the current authenticator code",
		Long: `Print the authenticator code for the configured TOTP secret,
useful for checking that the secret and the host clock agree with the
provider. With --window, print the surrounding skew-tolerance window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			creds, _, err := newResolver(configPath).Resolve()
			if err != nil {
				return err
			}
			if !creds.HasTOTP() {
				return fmt.Errorf("no TOTP secret configured")
			}

			now := time.Now()
			if !window {
				code, err := totp.Current(creds.TOTPSecret, now)
				if err != nil {
					return err
				}
				fmt.Println(code)
				return nil
			}

			candidates, err := totp.CodesForWindow(creds.TOTPSecret, now, totp.DefaultOffsets)
			if err != nil {
				return err
			}
			rows := pterm.TableData{{"Offset", "Code"}}
			for _, c := range candidates {
				rows = append(rows, []string{fmt.Sprintf("%+ds", c.Offset), c.Code})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}

	cmd.Flags().BoolVar(&window, "window", false, "Print the full clock-skew window")

	return cmd
}
