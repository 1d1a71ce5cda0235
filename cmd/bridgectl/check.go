package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var (
		configPath string
		manifest   string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate config and manifest and print the buffer layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := assemble(configPath, manifest)
			if err != nil {
				return err
			}
			return printLayout(cmd.OutOrStdout(), a)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "bridge.toml", "Bridge config file")
	cmd.Flags().StringVar(&manifest, "manifest", "", "Scene manifest (overrides the config)")
	return cmd
}

func printLayout(w io.Writer, a assembly) error {
	fmt.Fprintf(w, "server   %s (%s)\n", a.cfg.Bridge.ServerAddress(), a.cfg.Bridge.Transport)
	fmt.Fprintf(w, "manifest %s\n", a.cfg.ManifestPath)
	for _, dir := range []registry.Direction{registry.Send, registry.Receive} {
		table := a.registry.Bindings(dir, a.scene.Bones)
		if err := table.Validate(a.catalog); err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s %s\n", dir, codec.ComputeSizes(table, a.catalog))
		for _, b := range table {
			line := fmt.Sprintf("  %-24s %-28s", b.Entity, a.catalog.CanonicalName(b.Attribute))
			if b.Source.Bone != "" {
				line += " bone=" + b.Source.Bone
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
	}
	return nil
}
