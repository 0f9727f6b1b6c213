package cli

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"skill-barter/messaging/pkg/health"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the REST service and realtime endpoint are reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := current.cfg
		client := &http.Client{Timeout: cfg.API.Timeout}

		checker := health.NewChecker(current.log, 0)
		checker.RegisterAPICheck("api", cfg.API.BaseURL+"/health", client, true)
		checker.RunChecks()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMPONENT\tSTATUS\tDETAIL")
		for _, c := range checker.Components() {
			detail := c.Description
			if c.Error != "" {
				detail = c.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, strings.ToUpper(string(c.Status)), detail)
		}
		fmt.Fprintf(tw, "realtime\t-\t%s\n", cfg.Realtime.URL)
		tw.Flush()

		if !checker.IsSystemHealthy() {
			return fmt.Errorf("%s is unhealthy", cfg.API.BaseURL)
		}
		return nil
	},
}
