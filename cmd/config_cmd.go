package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archiflow-dev/archiflow/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the merged configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			hierarchy := config.NewHierarchy(resolveWorkDir())
			snapshot, err := hierarchy.Load()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(snapshot.Settings, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if len(snapshot.Sources) > 0 {
				fmt.Println("\n# sources (lowest precedence first):")
				for _, src := range snapshot.Sources {
					fmt.Printf("#   %s\n", src)
				}
			}
			return nil
		},
	}
	return cmd
}
