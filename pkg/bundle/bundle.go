// Package bundle packs a Manifest plus its referenced blobs into a single
// zstd-compressed archive file, so a completed job's outputs can be handed
// to a materializer that does not share the producing host's blob store.
// This is local serialization only; it is not a remote cache transport
// protocol.
package bundle

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/chash"
	"github.com/stagecore/stagecore/pkg/manifest"
)

// magic identifies a stagecore bundle file; version allows the framing to
// evolve without guessing at older readers' intent.
const (
	magic   = "STGB"
	version = 1
)

// Pack writes m and every blob its file entries reference to w, as one
// zstd-compressed stream. Only file entries carry blobs; symlink and
// directory entries are fully described by the manifest itself.
func Pack(m *manifest.Manifest, store *blobstore.Store, w io.Writer) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return fmt.Errorf("bundle: pack: write magic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint8(version)); err != nil {
		return fmt.Errorf("bundle: pack: write version: %w", err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("bundle: pack: new zstd writer: %w", err)
	}
	defer enc.Close()

	mfJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("bundle: pack: marshal manifest: %w", err)
	}
	if err := writeFrame(enc, mfJSON); err != nil {
		return fmt.Errorf("bundle: pack: write manifest frame: %w", err)
	}

	hashes := fileHashes(m)
	if err := binary.Write(enc, binary.BigEndian, uint32(len(hashes))); err != nil {
		return fmt.Errorf("bundle: pack: write blob count: %w", err)
	}
	for _, h := range hashes {
		data, err := store.Read(h)
		if err != nil {
			return fmt.Errorf("bundle: pack: read blob %s: %w", h, err)
		}
		if _, err := enc.Write(h[:]); err != nil {
			return fmt.Errorf("bundle: pack: write blob hash: %w", err)
		}
		if err := writeFrame(enc, data); err != nil {
			return fmt.Errorf("bundle: pack: write blob %s: %w", h, err)
		}
	}

	return enc.Close()
}

// Unpack reads a bundle written by Pack, ingests every blob it carries
// into store via PutBytes, and returns the enclosed Manifest. Ingestion
// is by content, so a bundle produced on one host can be unpacked into any
// blob store: the resulting hash is recomputed locally and matched
// against the declared hash for each file entry.
func Unpack(r io.Reader, store *blobstore.Store) (*manifest.Manifest, error) {
	br := bufio.NewReader(r)

	hdr := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("bundle: unpack: read header: %w", err)
	}
	if string(hdr[:len(magic)]) != magic {
		return nil, fmt.Errorf("bundle: unpack: not a stagecore bundle")
	}
	if hdr[len(magic)] != version {
		return nil, fmt.Errorf("bundle: unpack: unsupported bundle version %d", hdr[len(magic)])
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("bundle: unpack: new zstd reader: %w", err)
	}
	defer dec.Close()

	mfJSON, err := readFrame(dec)
	if err != nil {
		return nil, fmt.Errorf("bundle: unpack: read manifest frame: %w", err)
	}
	m := manifest.New()
	if err := json.Unmarshal(mfJSON, m); err != nil {
		return nil, fmt.Errorf("bundle: unpack: unmarshal manifest: %w", err)
	}

	var count uint32
	if err := binary.Read(dec, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("bundle: unpack: read blob count: %w", err)
	}

	for i := uint32(0); i < count; i++ {
		var raw [chash.Size]byte
		if _, err := io.ReadFull(dec, raw[:]); err != nil {
			return nil, fmt.Errorf("bundle: unpack: read blob hash %d: %w", i, err)
		}
		data, err := readFrame(dec)
		if err != nil {
			return nil, fmt.Errorf("bundle: unpack: read blob %d: %w", i, err)
		}
		h, err := store.PutBytes(data)
		if err != nil {
			return nil, fmt.Errorf("bundle: unpack: ingest blob %d: %w", i, err)
		}
		if declared := chash.ContentHash(raw); h != declared {
			return nil, fmt.Errorf("bundle: unpack: blob %d: content hashes to %s, declared %s", i, h, declared)
		}
	}

	return m, nil
}

// fileHashes returns the distinct blob hashes referenced by m's file
// entries, in Outputs order (falling back to sorted dest paths if Outputs
// was never populated).
func fileHashes(m *manifest.Manifest) []chash.ContentHash {
	order := m.Outputs
	if len(order) == 0 {
		order = m.SortedDestPaths()
	}

	seen := make(map[chash.ContentHash]struct{})
	var hashes []chash.ContentHash
	for _, path := range order {
		entry, ok := m.Entries[path]
		if !ok || entry.Type != manifest.TypeFile {
			continue
		}
		if _, dup := seen[entry.Hash]; dup {
			continue
		}
		seen[entry.Hash] = struct{}{}
		hashes = append(hashes, entry.Hash)
	}
	return hashes
}

func writeFrame(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
