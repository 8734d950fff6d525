package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func enqueueCmd() *cobra.Command {
	var retries int
	var id string

	cmd := &cobra.Command{
		Use:   "enqueue <command...>",
		Short: "Enqueue a shell command to run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")

			req := map[string]any{"command": command}
			if id != "" {
				req["id"] = id
			}
			if cmd.Flags().Changed("retries") {
				req["max_retries"] = retries
			}

			var job map[string]any
			if err := apiPost("/api/v1/jobs", req, &job); err != nil {
				return err
			}
			fmt.Printf("enqueued id=%v command=%q\n", job["ID"], job["Command"])
			return nil
		},
	}

	cmd.Flags().IntVar(&retries, "retries", 0, "per-job max retries override")
	cmd.Flags().StringVar(&id, "id", "", "explicit job id (default: generated)")
	return cmd
}
