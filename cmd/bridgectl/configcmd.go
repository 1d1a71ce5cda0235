package main

import (
	"fmt"

	"github.com/danmuck/simbridge/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage config files",
	}
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		kind   string
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Long: `Write a bridge config or scene manifest template.

Examples:
  bridgectl config init
  bridgectl config init --kind manifest --output scene.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				switch kind {
				case "manifest":
					target = "scene.toml"
				default:
					target = "bridge.toml"
				}
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, target)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "bridge", "Template kind: bridge|manifest")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
