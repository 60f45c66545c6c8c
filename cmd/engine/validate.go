package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gassist/plugin-engine/internal/manifest"
)

func newValidateManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-manifest <path>",
		Short: "Validate a plugin manifest.json against the protocol schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: valid manifest, %d function(s): %v\n", m.Name, len(m.Functions), m.FunctionNames())
			return nil
		},
	}
}
