// Package journal implements the reference Catalog. This file implements
// checkpointing: compacting the live journal and writing portable,
// optionally compressed images of the catalog. Consumed by the daemon when
// the retention policy's checkpointing flags are enabled; the GC core never
// calls into this file.
package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/snapgc-io/snapgc/internal/catalog"
	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// Codec selects the compression applied to checkpoint files.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecSnappy Codec = "snappy"
	CodecLZ4    Codec = "lz4"
	CodecZstd   Codec = "zstd"
)

// ParseCodec maps a config string to a Codec. Empty means none.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecSnappy:
		return CodecSnappy, nil
	case CodecLZ4:
		return CodecLZ4, nil
	case CodecZstd:
		return CodecZstd, nil
	default:
		return CodecNone, fmt.Errorf("journal: unknown checkpoint codec %q", s)
	}
}

// compressor wraps w in the codec's writer. The returned closer must be
// closed before the underlying file to flush codec framing.
func (c Codec) compressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("journal: unknown codec %q", c)
	}
}

// decompressor wraps r in the codec's reader.
func (c Codec) decompressor(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("journal: unknown codec %q", c)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// WriteCheckpoint writes a compacted image of the catalog to path: one
// UPSERT line per record, compressed with the given codec. The file is
// written to a temporary sibling and renamed into place so readers never
// observe a partial checkpoint.
func (c *Catalog) WriteCheckpoint(path string, codec Codec) error {
	c.mu.Lock()
	records := make([]snapshot.Meta, 0, len(c.items))
	for _, m := range c.items {
		records = append(records, m.Clone())
	}
	c.mu.Unlock()

	// Deterministic output makes checkpoints diffable.
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("journal: checkpoint: %w", err)
	}
	defer os.Remove(tmp)

	if err := writeRecords(f, records, codec); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("journal: checkpoint sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: checkpoint close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("journal: checkpoint rename: %w", err)
	}
	return nil
}

func writeRecords(w io.Writer, records []snapshot.Meta, codec Codec) error {
	cw, err := codec.compressor(w)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(cw)
	for i := range records {
		if _, err := bw.WriteString(tagUpsert + " " + Serialize(&records[i]) + "\n"); err != nil {
			return fmt.Errorf("journal: checkpoint write: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("journal: checkpoint flush: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("journal: checkpoint codec close: %w", err)
	}
	return nil
}

// LoadCheckpoint reads back the records of a checkpoint written with
// WriteCheckpoint using the same codec.
func LoadCheckpoint(path string, codec Codec) ([]snapshot.Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: checkpoint open: %w", err)
	}
	defer f.Close()

	cr, err := codec.decompressor(f)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	var out []snapshot.Meta
	sc := bufio.NewScanner(cr)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if len(line) <= len(tagUpsert)+1 || line[:len(tagUpsert)+1] != tagUpsert+" " {
			continue
		}
		m, err := Deserialize(line[len(tagUpsert)+1:])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal: checkpoint read: %w", err)
	}
	return out, nil
}

// Compact rewrites the live journal in place as UPSERT-only, dropping
// STATE and EVENT history that replay no longer needs. The rewrite goes
// through a temporary file and a rename, under the catalog lock, so a crash
// leaves either the old or the new journal.
func (c *Catalog) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return catalog.ErrClosed
	}

	records := make([]snapshot.Meta, 0, len(c.items))
	for _, m := range c.items {
		records = append(records, m)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	tmp := c.path + ".compact"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("journal: compact: %w", err)
	}
	defer os.Remove(tmp)

	if err := writeRecords(f, records, CodecNone); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("journal: compact sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: compact close: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("journal: compact rename: %w", err)
	}
	return nil
}
