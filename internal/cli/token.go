package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-sitechat/internal/auth"
	"github.com/tbourn/go-sitechat/internal/repo"
	"github.com/tbourn/go-sitechat/internal/services"
)

// tokenOutput is printed by the token command.
type tokenOutput struct {
	Widget   *services.WidgetSession   `json:"widget"`
	Operator *services.OperatorSession `json:"operator"`
}

// newTokenCmd seeds a channel and operator membership for local
// development and prints a widget and an operator session for it.
func newTokenCmd() *cobra.Command {
	var (
		channelID string
		name      string
		domains   []string
		userID    string
		role      string
		visitorID string
		origin    string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Seed a development channel and print widget and operator sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := repo.Open(cfg.DB)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			if _, err := repo.CreateChannel(ctx, db, channelID, name, domains); err != nil && !errors.Is(err, repo.ErrDuplicate) {
				return fmt.Errorf("create channel: %w", err)
			}
			if _, err := repo.UpsertMembership(ctx, db, channelID, userID, role, true); err != nil {
				return fmt.Errorf("membership: %w", err)
			}

			issuer := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.SessionTTL)
			sessions := &services.SessionService{DB: db, Issuer: issuer, Access: &services.AccessService{DB: db}}

			if origin == "" && len(domains) > 0 {
				origin = "https://" + domains[0]
			}
			w, err := sessions.StartWidgetSession(ctx, channelID, visitorID, origin)
			if err != nil {
				return fmt.Errorf("widget session: %w", err)
			}
			op, err := sessions.StartOperatorSession(ctx, channelID, userID)
			if err != nil {
				return fmt.Errorf("operator session: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tokenOutput{Widget: w, Operator: op})
		},
	}

	cmd.Flags().StringVar(&channelID, "channel", "demo", "channel id (created when missing)")
	cmd.Flags().StringVar(&name, "name", "Demo", "channel display name")
	cmd.Flags().StringSliceVar(&domains, "domains", nil, "widget host allow-list for a new channel")
	cmd.Flags().StringVar(&userID, "operator", "operator-1", "operator user id")
	cmd.Flags().StringVar(&role, "role", "agent", "operator role")
	cmd.Flags().StringVar(&visitorID, "visitor", "", "visitor id (generated when empty)")
	cmd.Flags().StringVar(&origin, "origin", "", "embedding origin presented for the widget session")
	return cmd
}
