package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/chash"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Operate on the content-addressable blob store",
	}
	cmd.AddCommand(newStoreInitCmd())
	cmd.AddCommand(newStorePutCmd())
	cmd.AddCommand(newStoreGetCmd())
	cmd.AddCommand(newStoreHasCmd())
	return cmd
}

func newStoreInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <root>",
		Short: "Create blobs/ and staging/ under root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := blobstore.Open(args[0]); err != nil {
				return fmt.Errorf("store init: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized store at %s\n", args[0])
			return nil
		},
	}
}

func newStorePutCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Copy a file into the blob store and print its hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blobstore.Open(root)
			if err != nil {
				return fmt.Errorf("store put: %w", err)
			}
			h, err := store.PutFile(args[0])
			if err != nil {
				return fmt.Errorf("store put: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), h.ToHex())
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "store", ".stagecore", "blob store root")
	return cmd
}

func newStoreGetCmd() *cobra.Command {
	var root string
	var modeStr string
	cmd := &cobra.Command{
		Use:   "get <hash> <dest>",
		Short: "Materialize a blob to dest with the given mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blobstore.Open(root)
			if err != nil {
				return fmt.Errorf("store get: %w", err)
			}
			h, err := chash.FromHex(args[0])
			if err != nil {
				return fmt.Errorf("store get: %w", err)
			}
			mode, err := strconv.ParseUint(modeStr, 8, 32)
			if err != nil {
				return fmt.Errorf("store get: parse mode %q: %w", modeStr, err)
			}
			if err := store.Materialize(h, args[1], os.FileMode(mode)); err != nil {
				return fmt.Errorf("store get: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "store", ".stagecore", "blob store root")
	cmd.Flags().StringVar(&modeStr, "mode", "644", "octal file mode")
	return cmd
}

func newStoreHasCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "has <hash>",
		Short: "Report whether a blob is present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blobstore.Open(root)
			if err != nil {
				return fmt.Errorf("store has: %w", err)
			}
			h, err := chash.FromHex(args[0])
			if err != nil {
				return fmt.Errorf("store has: %w", err)
			}
			if store.Has(h) {
				fmt.Fprintln(cmd.OutOrStdout(), "present")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "absent")
			os.Exit(1)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "store", ".stagecore", "blob store root")
	return cmd
}
