package main

import (
	"github.com/spf13/cobra"

	"dropforge/internal/review"
)

var reviewActor string

// reviewCmd opens the interactive candidate queue.
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Interactively accept or decline scored candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, db, err := buildService(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		defer svc.Close()

		if err := review.Run(svc, reviewActor); err != nil {
			return err
		}
		// Accepted candidates may still be generating creatives.
		svc.WaitForCampaigns()
		return nil
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewActor, "actor", "seller", "Name recorded on decisions")
}
