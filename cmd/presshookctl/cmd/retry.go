package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"presshook/internal/hook"
)

// retryCmd represents the retry command
var retryCmd = &cobra.Command{
	Use:   "retry [record-id]",
	Short: "Replay a failed delivery",
	Long: `Re-enqueue a failed delivery record with a fresh attempt budget.
Only records in the failed state can be replayed. Requires an operator token.

Example:
  presshookctl retry 4f7c1b2a-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID := args[0]

		resp, err := makeHTTPRequest("POST", fmt.Sprintf("/webhooks/logs/%s/retry", recordID), nil)
		if err != nil {
			return fmt.Errorf("failed to replay delivery: %w", err)
		}

		var out struct {
			Log hook.Record `json:"log"`
		}
		if err := decodeResponse(resp, &out); err != nil {
			return err
		}

		if outputJSON {
			printOutput(out)
			return nil
		}

		fmt.Printf("Replay accepted for record %s\n", out.Log.ID)
		fmt.Printf("  Status: %s\n", out.Log.Status)
		fmt.Printf("  Attempts so far: %d\n", out.Log.Attempt)
		fmt.Printf("  Target: %s %s\n", out.Log.Payload.Action, out.Log.Payload.Slug)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
