package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/manifest"
	"github.com/stagecore/stagecore/pkg/materialize"
)

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Operate on job result manifests",
	}
	cmd.AddCommand(newManifestApplyCmd())
	return cmd
}

func newManifestApplyCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "apply <manifest.json> <workspace-root>",
		Short: "Ingest and install every entry of a manifest into a workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blobstore.Open(root)
			if err != nil {
				return fmt.Errorf("manifest apply: %w", err)
			}
			mf, err := manifest.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("manifest apply: %w", err)
			}
			report, err := materialize.Apply(mf, store, args[1])
			if err != nil {
				return fmt.Errorf("manifest apply: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d entries, %d failed\n", len(report.Applied), len(report.Failed))
			for _, f := range report.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", f)
			}
			if !report.OK() {
				return fmt.Errorf("manifest apply: %d entries failed", len(report.Failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "store", ".stagecore", "blob store root")
	return cmd
}
