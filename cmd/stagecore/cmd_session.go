package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagecore/stagecore/pkg/manifest"
	"github.com/stagecore/stagecore/pkg/postproc"
	"github.com/stagecore/stagecore/pkg/stagefs"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Exercise job session admission and finalization",
	}
	cmd.AddCommand(newSessionAdmitCmd())
	cmd.AddCommand(newSessionFinalizeCmd())
	return cmd
}

// newSessionAdmitCmd parses a driver's visible-input JSON and reports how
// many entries were hashed vs. bare workspace-fallback, as a sanity check
// on the wire format.
func newSessionAdmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admit <job-id> <visible.json>",
		Short: "Validate a visible-input file and report what it admits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("session admit: %w", err)
			}
			inputs, err := manifest.ParseVisibleInputs(data)
			if err != nil {
				return fmt.Errorf("session admit: %w", err)
			}

			hashed, bare := 0, 0
			for _, in := range inputs {
				if in.Hashed {
					hashed++
				} else {
					bare++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s: admitted %d visible inputs (%d hashed, %d workspace-fallback)\n",
				args[0], len(inputs), hashed, bare)
			return nil
		},
	}
}

// stagedItemFile is the JSON shape accepted by `session finalize` to
// describe a job's staged outputs without requiring a live stagefs.View:
// the CLI is a test harness for the post-processor contract, not a
// persistent per-job daemon.
type stagedItemFile struct {
	Path        string `json:"path"`
	Type        string `json:"type"`
	StagingPath string `json:"staging_path,omitempty"`
	Target      string `json:"target,omitempty"`
	Mode        uint32 `json:"mode,omitempty"`
	MTimeSec    int64  `json:"mtime_sec,omitempty"`
	MTimeNsec   int32  `json:"mtime_nsec,omitempty"`
}

// fileSession adapts a flat slice of stagedItemFile into the interface
// postproc.Process needs, letting the CLI drive the post-processor
// directly from a JSON description.
type fileSession struct {
	staged map[string]*stagefs.StagedItem
}

func (s *fileSession) StagedItems() map[string]*stagefs.StagedItem { return s.staged }
func (s *fileSession) Reads() map[string]struct{}                  { return nil }
func (s *fileSession) Writes() map[string]struct{}                 { return nil }

func newSessionFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <job-id> <staged.json> <manifest-out.json>",
		Short: "Hash a job's declared staged items and write the resulting manifest",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("session finalize: %w", err)
			}
			var items []stagedItemFile
			if err := json.Unmarshal(data, &items); err != nil {
				return fmt.Errorf("session finalize: %w", err)
			}

			sess := &fileSession{staged: make(map[string]*stagefs.StagedItem, len(items))}
			for _, it := range items {
				var kind manifest.EntryType
				switch it.Type {
				case "file":
					kind = manifest.TypeFile
				case "symlink":
					kind = manifest.TypeSymlink
				case "directory":
					kind = manifest.TypeDirectory
				default:
					return fmt.Errorf("session finalize: %s: unknown type %q", it.Path, it.Type)
				}
				sess.staged[it.Path] = &stagefs.StagedItem{
					Kind:        kind,
					StagingPath: it.StagingPath,
					DestPath:    it.Path,
					Target:      it.Target,
					Mode:        it.Mode & 0o7777,
					MTimeSec:    it.MTimeSec,
					MTimeNsec:   it.MTimeNsec,
					JobID:       args[0],
				}
			}

			mf, err := postproc.Process(sess)
			if err != nil {
				return fmt.Errorf("session finalize: %w", err)
			}
			if err := manifest.WriteFile(args[2], mf); err != nil {
				return fmt.Errorf("session finalize: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s: wrote manifest with %d entries to %s\n", args[0], len(mf.Entries), args[2])
			return nil
		},
	}
}
