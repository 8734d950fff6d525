package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func dlqCmd() *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the dead-letter queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the dead-letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobs []map[string]any
			if err := apiGet("/api/v1/dlq", &jobs); err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("dead-letter queue is empty")
				return nil
			}
			fmt.Println("ID\tATTEMPTS\tCOMMAND")
			for _, j := range jobs {
				fmt.Printf("%v\t%v\t%v\n", j["ID"], j["Attempts"], j["Command"])
			}
			return nil
		},
	}

	retry := &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Requeue one dead job, or every dead job with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if all {
				var result map[string]any
				if err := apiPost("/api/v1/dlq/retry", nil, &result); err != nil {
					return err
				}
				fmt.Printf("requeued %v jobs\n", result["requeued"])
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("retry requires a job id, or --all")
			}
			var result map[string]any
			if err := apiPost("/api/v1/dlq/"+args[0]+"/retry", nil, &result); err != nil {
				return err
			}
			fmt.Printf("job %s requeued\n", args[0])
			return nil
		},
	}
	retry.Flags().Bool("all", false, "requeue every dead job")

	dlq.AddCommand(list, retry)
	return dlq
}
