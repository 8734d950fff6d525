package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state and worker pool occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status map[string]any
			if err := apiGet("/api/v1/status", &status); err != nil {
				return err
			}

			fmt.Println("--- job queue status ---")
			counts, _ := status["JobCounts"].(map[string]any)
			if len(counts) == 0 {
				fmt.Println("no jobs in the queue")
			}
			for state, count := range counts {
				fmt.Printf("%s:\t%v\n", state, count)
			}

			fmt.Println("\n--- worker pool ---")
			poolStats, _ := status["Pool"].(map[string]any)
			fmt.Printf("processing:\t%v\n", poolStats["Processing"])
			fmt.Printf("idle:\t\t%v\n", poolStats["Idle"])
			fmt.Printf("live:\t\t%v\n", poolStats["Live"])
			fmt.Printf("\nphase:\t%v\n", status["Phase"])
			return nil
		},
	}
}
