// Command stagecore exposes the content-addressable staging and
// materialization core as a set of operable subcommands, for manual
// testing and local development. It does not implement a build language,
// job history, process launching, or remote cache transport; those remain
// external collaborators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "stagecore",
		Short: "Content-addressable staging and materialization core",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newStoreCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newManifestCmd())
	root.AddCommand(newBundleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("stagecore 0.1.0-dev")
		},
	}
}
