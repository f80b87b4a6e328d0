package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mycelian/cockpit/internal/cockpitservice"
	"github.com/mycelian/cockpit/internal/digest"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/prefs"
)

func newDigestCmd() *cobra.Command {
	digestCmd := &cobra.Command{Use: "digest", Short: "Daily pulse operations"}

	var userID, date, tz string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Generate one user's pulse; an existing pulse is returned unchanged",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(app *cockpitservice.App) error {
				users := app.Store.UserStates()
				now := app.Clock.Now()
				if tz != "" {
					v, err := prefs.ValidateTimezone(tz)
					if err != nil {
						return err
					}
					if _, err := users.SetTimezoneIfEmpty(ctx, userID, v, now); err != nil {
						return err
					}
				}
				u, err := users.Get(ctx, userID)
				if err != nil {
					return fmt.Errorf("user %s: %w", userID, err)
				}
				if date == "" {
					date, _ = digest.Today(*u, now)
				}
				if err := digest.ValidateDate(*u, date, now); err != nil {
					return err
				}
				pulse, inserted, err := app.Generator.Generate(ctx, *u, date, digest.TriggerManual)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Inserted bool              `json:"inserted"`
					Pulse    *model.DailyPulse `json:"pulse"`
				}{inserted, pulse})
			})
		},
	}
	runCmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (required)")
	runCmd.Flags().StringVarP(&date, "date", "d", "", "Pulse date YYYY-MM-DD (defaults to the user's local today)")
	runCmd.Flags().StringVarP(&tz, "tz", "t", "", "IANA timezone to persist when the user has none")
	_ = runCmd.MarkFlagRequired("user")
	digestCmd.AddCommand(runCmd)
	return digestCmd
}
