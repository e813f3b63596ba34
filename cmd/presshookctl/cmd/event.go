package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"presshook/internal/hook"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event [action] [path]",
	Short: "Send a content-lifecycle trigger event",
	Long: `Send a trigger event to the dispatch endpoint, creating a new
delivery job. Actions: publish, update, unpublish.

Example:
  presshookctl event publish /posts/hello-world`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev := hook.Event{Action: args[0], Path: args[1]}

		resp, err := makeHTTPRequest("POST", "/internal/events", ev)
		if err != nil {
			return fmt.Errorf("failed to send event: %w", err)
		}

		var out struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := decodeResponse(resp, &out); err != nil {
			return err
		}

		if outputJSON {
			printOutput(out)
			return nil
		}

		fmt.Printf("Delivery enqueued: %s (%s)\n", out.ID, out.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
}
