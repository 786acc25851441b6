package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/clifmt"
	"github.com/knapabuse2-cmd/outreach/internal/scenario"
)

func newCampaignsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "Manage outreach campaigns",
	}

	cmd.AddCommand(newCampaignsCreateCmd())
	cmd.AddCommand(newCampaignsListCmd())
	cmd.AddCommand(newCampaignsStatsCmd())
	return cmd
}

func newCampaignsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			scenarioPath, _ := cmd.Flags().GetString("scenario")
			if strings.TrimSpace(scenarioPath) == "" {
				return fmt.Errorf("--scenario is required")
			}
			links, _ := cmd.Flags().GetStringArray("link")

			// Reject scenarios that will not load before anything is persisted.
			if _, err := scenario.Load(scenarioPath); err != nil {
				return err
			}

			st, err := openStoreFromViper()
			if err != nil {
				return err
			}
			campaign := models.NewCampaign(name, scenarioPath, links)
			if err := st.CreateCampaign(cmd.Context(), campaign); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("Campaign %s created (%s).", campaign.Name, campaign.ID)))
			return nil
		},
	}

	cmd.Flags().String("name", "", "Unique campaign name.")
	cmd.Flags().String("scenario", "", "Path to the scenario YAML file.")
	cmd.Flags().StringArray("link", nil, "Goal link offered when a dialogue converts (repeatable).")

	return cmd
}

func newCampaignsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreFromViper()
			if err != nil {
				return err
			}
			campaigns, err := st.ListCampaigns(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([]clifmt.ListRow, 0, len(campaigns))
			for _, c := range campaigns {
				rows = append(rows, clifmt.ListRow{
					Name: c.Name,
					Detail: fmt.Sprintf("status=%s  targets=%d  contacted=%d  responded=%d  goal=%d  scenario=%s",
						c.Status, c.TotalTargets, c.Contacted, c.Responded, c.GoalReached, c.ScenarioPath),
				})
			}

			clifmt.PrintListTable(cmd.OutOrStdout(), clifmt.ListTableOptions{
				Title:        "Campaigns",
				Rows:         rows,
				EmptyText:    "No campaigns exist yet.",
				NameHeader:   "NAME",
				DetailHeader: "DETAILS",
			})
			return nil
		},
	}
}

func newCampaignsStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show live target counts for a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}

			st, err := openStoreFromViper()
			if err != nil {
				return err
			}
			campaign, err := st.GetCampaignByName(cmd.Context(), name)
			if err != nil {
				return err
			}
			counts, err := st.CountTargetsByStatus(cmd.Context(), campaign.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, clifmt.Headerf("Campaign %s", campaign.Name))
			fmt.Fprintf(out, "%s %s\n", clifmt.Key("status:"), campaign.Status)
			fmt.Fprintf(out, "%s %d\n", clifmt.Key("messages sent:"), campaign.MessagesSent)
			fmt.Fprintf(out, "%s %d\n", clifmt.Key("tokens used:"), campaign.TokensUsed)

			order := []models.TargetStatus{
				models.TargetPending,
				models.TargetAssigned,
				models.TargetInProgress,
				models.TargetContacted,
				models.TargetConverted,
				models.TargetCompleted,
				models.TargetFailed,
				models.TargetSkipped,
				models.TargetBlocked,
			}
			fmt.Fprintln(out, clifmt.Key("targets:"))
			for _, status := range order {
				if n, ok := counts[status]; ok {
					fmt.Fprintf(out, "  %s %d\n", clifmt.Dim(string(status)+":"), n)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("name", "", "Campaign name.")

	return cmd
}
