package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/jobs"
			if state != "" {
				path += "?state=" + url.QueryEscape(state)
			}

			var jobs []map[string]any
			if err := apiGet(path, &jobs); err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			fmt.Println("ID\tSTATE\tATTEMPTS\tCOMMAND")
			for _, j := range jobs {
				fmt.Printf("%v\t%v\t%v\t%v\n", j["ID"], j["State"], j["Attempts"], j["Command"])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by state: pending, processing, completed, dead")
	return cmd
}
