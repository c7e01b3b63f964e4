package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/bundle"
	"github.com/stagecore/stagecore/pkg/manifest"
)

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Pack or unpack a manifest-plus-blobs archive",
	}
	cmd.AddCommand(newBundlePackCmd())
	cmd.AddCommand(newBundleUnpackCmd())
	return cmd
}

func newBundlePackCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "pack <manifest.json> <out.stagebundle>",
		Short: "Pack a manifest and its referenced blobs into one archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blobstore.Open(root)
			if err != nil {
				return fmt.Errorf("bundle pack: %w", err)
			}
			mf, err := manifest.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("bundle pack: %w", err)
			}
			out, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("bundle pack: %w", err)
			}
			defer out.Close()
			if err := bundle.Pack(mf, store, out); err != nil {
				return fmt.Errorf("bundle pack: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "store", ".stagecore", "blob store root")
	return cmd
}

func newBundleUnpackCmd() *cobra.Command {
	var root string
	var out string
	cmd := &cobra.Command{
		Use:   "unpack <in.stagebundle>",
		Short: "Unpack an archive's blobs into a store and write its manifest to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blobstore.Open(root)
			if err != nil {
				return fmt.Errorf("bundle unpack: %w", err)
			}
			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("bundle unpack: %w", err)
			}
			defer in.Close()
			mf, err := bundle.Unpack(in, store)
			if err != nil {
				return fmt.Errorf("bundle unpack: %w", err)
			}
			if out == "" {
				out = args[0] + ".manifest.json"
			}
			if err := manifest.WriteFile(out, mf); err != nil {
				return fmt.Errorf("bundle unpack: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpacked %d entries, wrote manifest to %s\n", len(mf.Entries), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "store", ".stagecore", "blob store root")
	cmd.Flags().StringVar(&out, "manifest-out", "", "path to write the unpacked manifest (default <in>.manifest.json)")
	return cmd
}
