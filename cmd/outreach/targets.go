package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/clifmt"
)

func newTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage campaign targets",
	}

	cmd.AddCommand(newTargetsImportCmd())
	return cmd
}

func newTargetsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import targets from a file, one peer id or username per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignName, _ := cmd.Flags().GetString("campaign")
			if strings.TrimSpace(campaignName) == "" {
				return fmt.Errorf("--campaign is required")
			}
			path, _ := cmd.Flags().GetString("file")
			if strings.TrimSpace(path) == "" {
				return fmt.Errorf("--file is required")
			}

			st, err := openStoreFromViper()
			if err != nil {
				return err
			}
			campaign, err := st.GetCampaignByName(cmd.Context(), campaignName)
			if err != nil {
				return err
			}

			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			targets, err := parseTargetLines(campaign.ID, file)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if len(targets) == 0 {
				return fmt.Errorf("%s: no targets found", path)
			}

			inserted, err := st.CreateTargets(cmd.Context(), targets)
			if err != nil {
				return err
			}
			if err := st.AddCampaignTargets(cmd.Context(), campaign.ID, inserted); err != nil {
				return err
			}

			msg := fmt.Sprintf("Imported %d targets into %s.", inserted, campaign.Name)
			if skipped := int64(len(targets)) - inserted; skipped > 0 {
				msg += fmt.Sprintf(" Skipped %d duplicates.", skipped)
			}
			fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(msg))
			return nil
		},
	}

	cmd.Flags().String("campaign", "", "Campaign name receiving the targets.")
	cmd.Flags().String("file", "", "Path to the target list.")

	return cmd
}

// parseTargetLines reads one entry per line. All-digit lines become peer
// ids; anything else is a username with any leading @ dropped. Blank
// lines are skipped.
func parseTargetLines(campaignID uuid.UUID, r io.Reader) ([]*models.Target, error) {
	var targets []*models.Target
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if allDigits(line) {
			id, err := strconv.ParseInt(line, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: peer id %q out of range", lineNo, line)
			}
			targets = append(targets, models.NewTarget(campaignID, id, ""))
			continue
		}
		targets = append(targets, models.NewTarget(campaignID, 0, strings.TrimPrefix(line, "@")))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
