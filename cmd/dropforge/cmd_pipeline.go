package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dropforge/internal/config"
	"dropforge/internal/store"
	"dropforge/internal/types"
)

// discoverCmd runs one discovery pass and prints the new candidates.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Fetch and score a batch of trending candidates",
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

		scored, err := svc.Discover(cmd.Context())
		if err != nil {
			return err
		}
		if len(scored) == 0 {
			fmt.Println("No new candidates (all fetched products already have open candidates).")
			return nil
		}

		fmt.Printf("Discovered %d candidates under strategy v%d:\n\n", len(scored), svc.CurrentStrategy().Version)
		for _, sc := range scored {
			fmt.Printf("  %.2f  %-36s %s\n", sc.Score, sc.Title, sc.ID)
		}
		fmt.Println("\nRun 'dropforge review' to accept or decline them.")
		return nil
	},
}

// evolveCmd runs one evolution cycle.
var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Run one strategy evolution cycle over completed campaigns",
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

		next, published, err := svc.RunEvolutionCycle(cmd.Context())
		if err != nil {
			return err
		}
		if !published {
			cur := svc.CurrentStrategy()
			fmt.Printf("No new version published; strategy stays at v%d.\n", cur.Version)
			return nil
		}

		fmt.Printf("Published strategy v%d from %d campaigns:\n", next.Version, len(next.BasedOnCampaigns))
		for name, w := range next.Weights {
			fmt.Printf("  %-12s %.4f\n", name, w)
		}
		return nil
	},
}

// statusCmd prints a pipeline overview.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state: queue depth, campaigns, strategy",
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

		open, err := svc.ListCandidates(store.ScoreFilter{Undecided: true})
		if err != nil {
			return err
		}
		campaigns, err := svc.ListCampaigns()
		if err != nil {
			return err
		}
		byStatus := make(map[types.CampaignStatus]int)
		totalProfit := 0.0
		for _, c := range campaigns {
			byStatus[c.Status]++
			totalProfit += c.Profit()
		}
		strat := svc.CurrentStrategy()

		fmt.Printf("dropforge %s\n\n", cfg.Version)
		fmt.Printf("Review queue:   %d undecided candidates\n", len(open))
		fmt.Printf("Campaigns:      %d total", len(campaigns))
		if len(campaigns) > 0 {
			var parts []string
			for _, st := range []types.CampaignStatus{
				types.CampaignPending, types.CampaignGenerating, types.CampaignActive,
				types.CampaignCompleted, types.CampaignFailed,
			} {
				if n := byStatus[st]; n > 0 {
					parts = append(parts, fmt.Sprintf("%d %s", n, strings.TrimPrefix(string(st), "/")))
				}
			}
			fmt.Printf(" (%s)", strings.Join(parts, ", "))
		}
		fmt.Printf("\nTotal profit:   %.2f\n", totalProfit)
		fmt.Printf("Strategy:       v%d", strat.Version)
		for name, w := range strat.Weights {
			fmt.Printf("  %s=%.3f", name, w)
		}
		fmt.Println()
		return nil
	},
}

// initCmd writes a default config into the workspace.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .dropforge/config.yaml to the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws := resolveWorkspace()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Save(ws); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", config.ConfigPath(ws))
		return nil
	},
}
