package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"presshook/internal/hook"
)

// logsCmd represents the logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List webhook delivery logs",
	Long: `List delivery records, newest first. Requires an operator token.

Example:
  presshookctl logs --status failed --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		q := url.Values{}
		if status != "" {
			q.Set("status", status)
		}
		q.Set("limit", fmt.Sprintf("%d", limit))
		if offset > 0 {
			q.Set("offset", fmt.Sprintf("%d", offset))
		}

		resp, err := makeHTTPRequest("GET", "/webhooks/logs?"+q.Encode(), nil)
		if err != nil {
			return fmt.Errorf("failed to list logs: %w", err)
		}

		var out struct {
			Logs   []hook.Record `json:"logs"`
			Limit  int           `json:"limit"`
			Offset int           `json:"offset"`
		}
		if err := decodeResponse(resp, &out); err != nil {
			return err
		}

		if outputJSON {
			printOutput(out)
			return nil
		}

		if len(out.Logs) == 0 {
			fmt.Println("No delivery records found")
			return nil
		}
		for _, rec := range out.Logs {
			fmt.Printf("%s  %-8s attempt=%d", rec.ID, rec.Status, rec.Attempt)
			if rec.ResponseStatus != nil {
				fmt.Printf(" http=%d", *rec.ResponseStatus)
			}
			if rec.LastError != "" {
				fmt.Printf(" error=%s", rec.LastError)
			}
			fmt.Printf("  %s %s\n", rec.Payload.Action, rec.Payload.Slug)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().String("status", "", "filter by status (pending, success, failed)")
	logsCmd.Flags().Int("limit", 50, "maximum number of results")
	logsCmd.Flags().Int("offset", 0, "number of results to skip")
}
