package vecstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/klauspost/compress/zstd"
	"github.com/paprika-agent/paprika/pkg/storage"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

// Snapshot is the persisted content of an index. The graph of an HNSW
// index is not stored; Restore rebuilds it.
type Snapshot struct {
	Version int         `msgpack:"v"`
	Metric  string      `msgpack:"metric"`
	IDs     []string    `msgpack:"ids"`
	Vectors [][]float32 `msgpack:"vecs"`
}

// Capture copies every vector of idx.
func Capture(idx Index) *Snapshot {
	s := &Snapshot{Version: snapshotVersion, Metric: idx.Metric().String()}
	for id, v := range idx.All() {
		s.IDs = append(s.IDs, id)
		s.Vectors = append(s.Vectors, v)
	}
	return s
}

// Len reports the number of vectors in the snapshot.
func (s *Snapshot) Len() int { return len(s.IDs) }

// Restore inserts the snapshot's vectors into idx. The metrics must match.
func (s *Snapshot) Restore(idx Index) error {
	if s.Metric != idx.Metric().String() {
		return fmt.Errorf("vecstore: snapshot metric %s, index metric %s", s.Metric, idx.Metric())
	}
	if len(s.IDs) != len(s.Vectors) {
		return fmt.Errorf("vecstore: corrupt snapshot: %d ids, %d vectors", len(s.IDs), len(s.Vectors))
	}
	for i, id := range s.IDs {
		if err := idx.Insert(id, s.Vectors[i]); err != nil {
			return fmt.Errorf("vecstore: restore %s: %w", id, err)
		}
	}
	return nil
}

// Encode writes s as zstd-compressed msgpack.
func (s *Snapshot) Encode(w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(enc).Encode(s); err != nil {
		enc.Close()
		return fmt.Errorf("vecstore: encode snapshot: %w", err)
	}
	return enc.Close()
}

// DecodeSnapshot reads a snapshot written by Encode.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var s Snapshot
	if err := msgpack.NewDecoder(dec).Decode(&s); err != nil {
		return nil, fmt.Errorf("vecstore: decode snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("vecstore: unsupported snapshot version %d", s.Version)
	}
	return &s, nil
}

// WriteSnapshot captures idx and stores it under name.
func WriteSnapshot(ctx context.Context, blobs storage.Blobs, name string, idx Index) error {
	var buf bytes.Buffer
	if err := Capture(idx).Encode(&buf); err != nil {
		return err
	}
	return blobs.Put(ctx, name, buf.Bytes())
}

// ReadSnapshot loads the snapshot stored under name. ok is false when no
// snapshot exists.
func ReadSnapshot(ctx context.Context, blobs storage.Blobs, name string) (snap *Snapshot, ok bool, err error) {
	rc, err := blobs.Get(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()
	snap, err = DecodeSnapshot(rc)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}
