package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Read or change queue configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show every config key and its effective value",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg map[string]string
			if err := apiGet("/api/v1/config", &cfg); err != nil {
				return err
			}
			for key, value := range cfg {
				fmt.Printf("%s = %s\n", key, value)
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]string
			if err := apiPut("/api/v1/config/"+args[0], map[string]string{"value": args[1]}, &result); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", result["key"], result["value"])
			return nil
		},
	}

	root.AddCommand(show, set)
	return root
}

func shutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask a running server to shut down gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]string
			if err := apiPost("/api/v1/shutdown", nil, &result); err != nil {
				return err
			}
			fmt.Printf("server status: %s\n", result["status"])
			return nil
		},
	}
}
