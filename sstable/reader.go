// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// SSTable is an open read handle. Metadata components load lazily and are
// cached; the data stream is opened per fragment reader.
type SSTable struct {
	Desc   Descriptor
	schema *schema.Schema

	compression *CompressionInfo
	compressor  Compressor

	index      []IndexEntry
	summary    *Summary
	statistics *Statistics
	metadata   *Metadata
}

// Open opens the sstable any of whose component paths is given. The schema
// is shared read-only and must outlive the handle.
func Open(path string, s *schema.Schema) (*SSTable, error) {
	desc, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	t := &SSTable{Desc: desc, schema: s}
	if _, err := os.Stat(desc.Path()); err != nil {
		return nil, errors.Wrapf(err, "opening sstable %s", desc.Path())
	}
	ciPath := desc.ComponentPath(ComponentCompressionInfo)
	buf, err := os.ReadFile(ciPath)
	switch {
	case err == nil:
		if t.compression, err = decodeCompressionInfo(buf); err != nil {
			return nil, errors.Wrapf(err, "reading %s", ciPath)
		}
		if t.compressor, err = CompressorByName(t.compression.Name); err != nil {
			return nil, errors.Wrapf(err, "reading %s", ciPath)
		}
	case os.IsNotExist(err):
		// Uncompressed sstable.
	default:
		return nil, errors.Wrapf(err, "reading %s", ciPath)
	}
	return t, nil
}

// Path returns the canonical (Data component) path.
func (t *SSTable) Path() string {
	return t.Desc.Path()
}

// Schema returns the schema the sstable was opened with.
func (t *SSTable) Schema() *schema.Schema {
	return t.schema
}

// Compressed reports whether the Data component is compressed.
func (t *SSTable) Compressed() bool {
	return t.compression != nil
}

// CompressionInfo returns the compression descriptor, or nil when the
// sstable is not compressed.
func (t *SSTable) CompressionInfo() *CompressionInfo {
	return t.compression
}

// Index loads and caches the Index component.
func (t *SSTable) Index() ([]IndexEntry, error) {
	if t.index != nil {
		return t.index, nil
	}
	path := t.Desc.ComponentPath(ComponentIndex)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if t.index, err = decodeIndex(buf); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return t.index, nil
}

// Summary loads and caches the Summary component.
func (t *SSTable) Summary() (*Summary, error) {
	if t.summary != nil {
		return t.summary, nil
	}
	path := t.Desc.ComponentPath(ComponentSummary)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if t.summary, err = decodeSummary(buf); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return t.summary, nil
}

// Statistics loads and caches the Statistics component.
func (t *SSTable) Statistics() (*Statistics, error) {
	if t.statistics != nil {
		return t.statistics, nil
	}
	path := t.Desc.ComponentPath(ComponentStatistics)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if t.statistics, err = decodeStatistics(buf); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return t.statistics, nil
}

// Metadata loads and caches the Metadata component. A missing component is
// not an error; it returns an empty Metadata.
func (t *SSTable) Metadata() (*Metadata, error) {
	if t.metadata != nil {
		return t.metadata, nil
	}
	path := t.Desc.ComponentPath(ComponentMetadata)
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t.metadata = &Metadata{}
		return t.metadata, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if t.metadata, err = decodeMetadata(buf); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return t.metadata, nil
}

// dataReader serves the uncompressed logical data stream, transparently
// decompressing and checksum-verifying chunks.
type dataReader struct {
	file *os.File

	// Uncompressed path.
	br *bufio.Reader

	// Compressed path.
	ci        *CompressionInfo
	comp      Compressor
	physEnd   uint64
	chunk     []byte // decompressed bytes not yet served
	nextChunk int
}

func (t *SSTable) openDataAt(pos uint64) (*dataReader, error) {
	f, err := os.Open(t.Desc.Path())
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", t.Desc.Path())
	}
	r := &dataReader{file: f}
	if t.compression == nil {
		if _, err := f.Seek(int64(pos), io.SeekStart); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "seeking %s", t.Desc.Path())
		}
		r.br = bufio.NewReader(f)
		return r, nil
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", t.Desc.Path())
	}
	r.ci = t.compression
	r.comp = t.compressor
	r.physEnd = uint64(st.Size())
	chunk, skip := t.compression.ChunkFor(pos)
	r.nextChunk = chunk
	if pos >= t.compression.DataLen {
		r.nextChunk = len(t.compression.Offsets)
		return r, nil
	}
	if err := r.loadChunk(); err != nil {
		f.Close()
		return nil, err
	}
	if skip > uint64(len(r.chunk)) {
		f.Close()
		return nil, errors.Newf("position %d beyond chunk in %s", pos, t.Desc.Path())
	}
	r.chunk = r.chunk[skip:]
	return r, nil
}

// loadChunk reads, verifies and decompresses chunk nextChunk.
func (r *dataReader) loadChunk() error {
	ci := r.ci
	if r.nextChunk >= len(ci.Offsets) {
		return io.EOF
	}
	start := ci.Offsets[r.nextChunk]
	end := r.physEnd
	if r.nextChunk+1 < len(ci.Offsets) {
		end = ci.Offsets[r.nextChunk+1]
	}
	if end < start+8 {
		return errors.Newf("corrupt chunk %d: physical range [%d, %d)", r.nextChunk, start, end)
	}
	buf := make([]byte, end-start)
	if _, err := r.file.ReadAt(buf, int64(start)); err != nil {
		return errors.Wrapf(err, "reading chunk %d", r.nextChunk)
	}
	payload, sum := buf[:len(buf)-8], buf[len(buf)-8:]
	want := binary.BigEndian.Uint64(sum)
	if got := xxhash.Sum64(payload); got != want {
		return errors.Newf("chunk %d checksum mismatch: computed %016x, stored %016x", r.nextChunk, got, want)
	}
	chunk, err := r.comp.Decompress(nil, payload)
	if err != nil {
		return errors.Wrapf(err, "decompressing chunk %d", r.nextChunk)
	}
	r.chunk = chunk
	r.nextChunk++
	return nil
}

func (r *dataReader) Read(p []byte) (int, error) {
	if r.br != nil {
		return r.br.Read(p)
	}
	for len(r.chunk) == 0 {
		if err := r.loadChunk(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	return n, nil
}

func (r *dataReader) ReadByte() (byte, error) {
	if r.br != nil {
		return r.br.ReadByte()
	}
	for len(r.chunk) == 0 {
		if err := r.loadChunk(); err != nil {
			return 0, err
		}
	}
	b := r.chunk[0]
	r.chunk = r.chunk[1:]
	return b, nil
}

func (r *dataReader) Close() error {
	return r.file.Close()
}

// DataStream opens the uncompressed logical data stream from the beginning.
// The decompress operation streams it into a sibling file.
func (t *SSTable) DataStream(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.openDataAt(0)
}

// FragmentReader yields the sstable's fragments in stream order. It
// implements the reader contract the stream driver consumes: Next,
// NextPartition (the native skip, served by the index), Close.
type FragmentReader struct {
	t   *SSTable
	dr  *dataReader
	dec *decoder

	// Partitions started so far; index slot of the next partition.
	nextSlot int
	eof      bool
}

// NewFragmentReader opens the data stream at the first partition.
func (t *SSTable) NewFragmentReader(ctx context.Context) (*FragmentReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dr, err := t.openDataAt(0)
	if err != nil {
		return nil, err
	}
	return &FragmentReader{t: t, dr: dr, dec: newDecoder(dr)}, nil
}

// Next returns the next fragment, or ok=false at end of stream.
func (r *FragmentReader) Next(ctx context.Context) (f base.Fragment, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return base.Fragment{}, false, err
	}
	if r.eof {
		return base.Fragment{}, false, nil
	}
	f, err = decodeFragment(r.dec)
	if err != nil {
		// A bare io.EOF before the kind byte is a clean end of stream;
		// anything wrapped is a truncated fragment.
		if err == io.EOF {
			r.eof = true
			return base.Fragment{}, false, nil
		}
		return base.Fragment{}, false, errors.Wrapf(err, "reading %s", r.t.Desc.Path())
	}
	if f.Kind() == base.KindPartitionStart {
		ps := f.PartitionStart()
		ps.Token = r.t.schema.Token(ps.Key)
		r.nextSlot++
	}
	return f, true, nil
}

// NextPartition skips to the start of the next partition using the index.
func (r *FragmentReader) NextPartition(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.eof {
		return nil
	}
	index, err := r.t.Index()
	if err != nil {
		return err
	}
	if r.nextSlot >= len(index) {
		r.eof = true
		return nil
	}
	pos := index[r.nextSlot].Position
	if err := r.dr.Close(); err != nil {
		return err
	}
	dr, err := r.t.openDataAt(pos)
	if err != nil {
		return err
	}
	r.dr = dr
	r.dec = newDecoder(dr)
	return nil
}

func (r *FragmentReader) Close() error {
	return r.dr.Close()
}

// ValidateChecksums verifies the whole-file digest and, for compressed
// sstables, every chunk checksum. It returns false with a nil error when a
// checksum mismatches.
func (t *SSTable) ValidateChecksums(ctx context.Context, logger base.Logger) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	digestPath := t.Desc.ComponentPath(ComponentDigest)
	want, err := os.ReadFile(digestPath)
	if err != nil {
		return false, errors.Wrapf(err, "reading %s", digestPath)
	}
	f, err := os.Open(t.Desc.Path())
	if err != nil {
		return false, errors.Wrapf(err, "opening %s", t.Desc.Path())
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, errors.Wrapf(err, "reading %s", t.Desc.Path())
	}
	got := h.Sum64()
	wantHex := strings.TrimSpace(string(want))
	wantSum, err := hex.DecodeString(wantHex)
	if err != nil || len(wantSum) != 8 {
		return false, errors.Newf("malformed digest %q in %s", wantHex, digestPath)
	}
	if got != binary.BigEndian.Uint64(wantSum) {
		logger.Errorf("%s: digest mismatch: computed %016x, stored %s", t.Desc.Path(), got, wantHex)
		return false, nil
	}
	if t.compression == nil {
		return true, nil
	}
	// Walking every chunk exercises the per-chunk checksums.
	dr, err := t.openDataAt(0)
	if err != nil {
		return false, err
	}
	defer dr.Close()
	var n int64
	var buf [32 << 10]byte
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		m, err := dr.Read(buf[:])
		n += int64(m)
		if err != nil {
			if err == io.EOF {
				break
			}
			logger.Errorf("%s: %v", t.Desc.Path(), err)
			return false, nil
		}
	}
	if uint64(n) != t.compression.DataLen {
		logger.Errorf("%s: decompressed %d bytes, compression info declares %d", t.Desc.Path(), n, t.compression.DataLen)
		return false, nil
	}
	return true, nil
}
