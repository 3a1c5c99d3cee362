// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// WriterOptions configure a Writer. The zero value means snappy compression
// with 4 KiB chunks and the default summary sampling.
type WriterOptions struct {
	// Compression names the chunk compressor, or "none" for an uncompressed
	// Data component. Empty defaults to snappy.
	Compression string
	// ChunkLen is the uncompressed chunk size. Zero defaults to 4096.
	ChunkLen uint32
	// SummaryInterval samples every Nth partition into the Summary. Zero
	// defaults to 128.
	SummaryInterval int
	// Origin is recorded in the Metadata component.
	Origin string
}

// Writer materialises a fragment stream as a complete sstable component
// set. Fragments must arrive in well-formed stream order; the writer
// accumulates the index, summary and statistics as a side effect. Close
// finalises every component; Abort removes whatever was written.
type Writer struct {
	desc   Descriptor
	schema *schema.Schema
	opts   WriterOptions

	dataFile *os.File
	digest   *xxhash.Digest
	written  []string // paths created so far, for Abort

	comp        Compressor
	chunkLen    uint32
	pending     []byte   // logical bytes not yet flushed into a chunk
	offsets     []uint64 // physical chunk offsets
	physicalOff uint64
	logicalOff  uint64 // logical bytes flushed; current position is logicalOff+len(pending)

	index   []IndexEntry
	summary Summary

	partitions                            uint64
	rowsCount                             int64
	columnsCount                          int64
	minTimestamp, maxTimestamp            int64
	minDeletionTime, maxDeletionTime      int64
	minTTL, maxTTL                        int64
	sawTimestamp, sawDeletionTime, sawTTL bool

	inPartition bool
	finished    bool
	aborted     bool
}

// NewWriter creates the sstable's Data component and fails if any component
// of the descriptor already exists.
func NewWriter(desc Descriptor, s *schema.Schema, opts WriterOptions) (*Writer, error) {
	if opts.ChunkLen == 0 {
		opts.ChunkLen = 4096
	}
	if opts.SummaryInterval == 0 {
		opts.SummaryInterval = 128
	}
	if opts.Compression == "" {
		opts.Compression = "snappy"
	}
	for _, c := range allComponents {
		if _, err := os.Stat(desc.ComponentPath(c)); err == nil {
			return nil, errors.Newf("cannot create output sstable %s, file already exists", desc.ComponentPath(c))
		}
	}
	w := &Writer{desc: desc, schema: s, opts: opts, digest: xxhash.New(), chunkLen: opts.ChunkLen}
	if opts.Compression != "none" {
		comp, err := CompressorByName(opts.Compression)
		if err != nil {
			return nil, err
		}
		w.comp = comp
	}
	f, err := os.OpenFile(desc.Path(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", desc.Path())
	}
	w.dataFile = f
	w.written = append(w.written, desc.Path())
	return w, nil
}

// WriteFragment appends one fragment to the Data component.
func (w *Writer) WriteFragment(ctx context.Context, f *base.Fragment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.finished || w.aborted {
		return errors.AssertionFailedf("write into finished sstable writer")
	}
	switch f.Kind() {
	case base.KindPartitionStart:
		ps := f.PartitionStart()
		w.index = append(w.index, IndexEntry{Key: append(base.PartitionKey(nil), ps.Key...), Position: w.logicalOff + uint64(len(w.pending))})
		w.partitions++
		w.inPartition = true
		if !ps.Tombstone.IsEmpty() {
			w.noteTimestamp(ps.Tombstone.Timestamp)
			w.noteDeletionTime(ps.Tombstone.DeletionTime)
		}
	case base.KindPartitionEnd:
		w.inPartition = false
	case base.KindStaticRow:
		w.noteRow(&f.StaticRow().Cells)
	case base.KindClusteringRow:
		cr := f.ClusteringRow()
		w.rowsCount++
		if cr.Marker != nil {
			w.noteTimestamp(cr.Marker.Timestamp)
			if cr.Marker.HasTTL {
				w.noteTTL(cr.Marker.TTL)
			}
		}
		for _, t := range []base.Tombstone{cr.Tombstone, cr.Shadowable} {
			if !t.IsEmpty() {
				w.noteTimestamp(t.Timestamp)
				w.noteDeletionTime(t.DeletionTime)
			}
		}
		w.noteRow(&cr.Cells)
	case base.KindRangeTombstoneChange:
		rtc := f.RangeTombstoneChange()
		if !rtc.Tombstone.IsEmpty() {
			w.noteTimestamp(rtc.Tombstone.Timestamp)
			w.noteDeletionTime(rtc.Tombstone.DeletionTime)
		}
	}
	var e encoder
	e.buf = w.pending
	encodeFragment(&e, f)
	w.pending = e.buf
	return w.flushChunks(false)
}

func (w *Writer) noteRow(r *base.Row) {
	for i := range r.Cells {
		w.noteCell(&r.Cells[i].Cell)
	}
}

func (w *Writer) noteCell(c *base.Cell) {
	w.columnsCount++
	switch c.Kind {
	case base.CellAtomic, base.CellCounter:
		w.noteTimestamp(c.Timestamp)
		if c.Kind == base.CellAtomic {
			if c.Live {
				if c.HasTTL {
					w.noteTTL(c.TTL)
				}
			} else {
				w.noteDeletionTime(c.DeletionTime)
			}
		}
	case base.CellCollection:
		if !c.Tombstone.IsEmpty() {
			w.noteTimestamp(c.Tombstone.Timestamp)
			w.noteDeletionTime(c.Tombstone.DeletionTime)
		}
		for i := range c.Elements {
			w.noteCell(&c.Elements[i].Cell)
		}
	}
}

func (w *Writer) noteTimestamp(ts int64) {
	if !w.sawTimestamp {
		w.minTimestamp, w.maxTimestamp = ts, ts
		w.sawTimestamp = true
		return
	}
	if ts < w.minTimestamp {
		w.minTimestamp = ts
	}
	if ts > w.maxTimestamp {
		w.maxTimestamp = ts
	}
}

func (w *Writer) noteDeletionTime(dt int64) {
	if !w.sawDeletionTime {
		w.minDeletionTime, w.maxDeletionTime = dt, dt
		w.sawDeletionTime = true
		return
	}
	if dt < w.minDeletionTime {
		w.minDeletionTime = dt
	}
	if dt > w.maxDeletionTime {
		w.maxDeletionTime = dt
	}
}

func (w *Writer) noteTTL(ttl int64) {
	if !w.sawTTL {
		w.minTTL, w.maxTTL = ttl, ttl
		w.sawTTL = true
		return
	}
	if ttl < w.minTTL {
		w.minTTL = ttl
	}
	if ttl > w.maxTTL {
		w.maxTTL = ttl
	}
}

// flushChunks writes out full chunks; with final it drains the remainder.
func (w *Writer) flushChunks(final bool) error {
	if w.comp == nil {
		// Uncompressed: pass the pending bytes straight through.
		if len(w.pending) == 0 {
			return nil
		}
		if err := w.writePhysical(w.pending); err != nil {
			return err
		}
		w.logicalOff += uint64(len(w.pending))
		w.pending = w.pending[:0]
		return nil
	}
	for uint32(len(w.pending)) >= w.chunkLen || (final && len(w.pending) > 0) {
		n := w.chunkLen
		if uint32(len(w.pending)) < n {
			n = uint32(len(w.pending))
		}
		chunk := w.pending[:n]
		compressed := w.comp.Compress(nil, chunk)
		w.offsets = append(w.offsets, w.physicalOff)
		if err := w.writePhysical(compressed); err != nil {
			return err
		}
		var sum [8]byte
		binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(compressed))
		if err := w.writePhysical(sum[:]); err != nil {
			return err
		}
		w.logicalOff += uint64(n)
		w.pending = append(w.pending[:0], w.pending[n:]...)
	}
	return nil
}

func (w *Writer) writePhysical(buf []byte) error {
	if _, err := w.dataFile.Write(buf); err != nil {
		return errors.Wrapf(err, "writing %s", w.desc.Path())
	}
	_, _ = w.digest.Write(buf)
	w.physicalOff += uint64(len(buf))
	return nil
}

// Close finalises the Data component and writes every side component. On
// error the caller should Abort.
func (w *Writer) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.aborted {
		return errors.AssertionFailedf("closing aborted sstable writer")
	}
	if w.finished {
		return nil
	}
	if w.inPartition {
		return errors.New("fragment stream ended inside a partition")
	}
	if err := w.flushChunks(true); err != nil {
		return err
	}
	if err := w.dataFile.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", w.desc.Path())
	}
	present := []Component{ComponentData, ComponentIndex, ComponentSummary, ComponentStatistics, ComponentMetadata, ComponentDigest, ComponentTOC}
	if err := w.writeComponent(ComponentIndex, encodeIndex(w.index)); err != nil {
		return err
	}
	w.buildSummary()
	if err := w.writeComponent(ComponentSummary, encodeSummary(&w.summary)); err != nil {
		return err
	}
	if err := w.writeComponent(ComponentStatistics, encodeStatistics(w.buildStatistics())); err != nil {
		return err
	}
	runID := uuid.New()
	meta := &Metadata{
		Features:      &FeaturesMetadata{Mask: 1, Names: []string{"RangeTombstoneChanges"}},
		RunIdentifier: &runID,
		Origin:        w.opts.Origin,
	}
	if err := w.writeComponent(ComponentMetadata, encodeMetadata(meta)); err != nil {
		return err
	}
	if w.comp != nil {
		present = append(present, ComponentCompressionInfo)
		ci := &CompressionInfo{
			Name:     w.comp.Name(),
			Options:  map[string]string{"chunk_length_in_kb": fmt.Sprintf("%d", w.chunkLen/1024)},
			ChunkLen: w.chunkLen,
			DataLen:  w.logicalOff,
			Offsets:  w.offsets,
		}
		if err := w.writeComponent(ComponentCompressionInfo, encodeCompressionInfo(ci)); err != nil {
			return err
		}
	}
	if err := w.writeComponent(ComponentDigest, []byte(fmt.Sprintf("%016x\n", w.digest.Sum64()))); err != nil {
		return err
	}
	if err := writeTOC(w.desc, present); err != nil {
		return errors.Wrapf(err, "writing %s", w.desc.ComponentPath(ComponentTOC))
	}
	w.written = append(w.written, w.desc.ComponentPath(ComponentTOC))
	w.finished = true
	return nil
}

func (w *Writer) writeComponent(c Component, buf []byte) error {
	path := w.desc.ComponentPath(c)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	w.written = append(w.written, path)
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

func (w *Writer) buildSummary() {
	interval := w.opts.SummaryInterval
	s := &w.summary
	s.Header.MinIndexInterval = uint64(interval)
	s.Header.SamplingLevel = 128
	for i, ent := range w.index {
		if i%interval != 0 {
			continue
		}
		s.Entries = append(s.Entries, SummaryEntry{
			Key:      ent.Key,
			Token:    w.schema.Token(ent.Key),
			Position: ent.Position,
		})
		s.Positions = append(s.Positions, ent.Position)
	}
	s.Header.Size = uint64(len(s.Entries))
	s.Header.SizeAtFullSampling = uint64(len(w.index))
	for _, ent := range s.Entries {
		s.Header.MemorySize += uint64(len(ent.Key)) + 16
	}
	if len(w.index) > 0 {
		s.FirstKey = w.index[0].Key
		s.LastKey = w.index[len(w.index)-1].Key
	}
}

func (w *Writer) buildStatistics() *Statistics {
	ratio := math.NaN()
	if w.comp != nil && w.logicalOff > 0 {
		ratio = float64(w.physicalOff) / float64(w.logicalOff)
	}
	stats := &Statistics{
		Validation: ValidationMetadata{Partitioner: schema.PartitionerName, FilterChance: 0},
		Compaction: CompactionMetadata{Cardinality: []uint64{w.partitions}},
		Stats: StatsMetadata{
			EstimatedPartitionSize: estimatePartitionSizes(w.index, w.logicalOff),
			MinTimestamp:           w.minTimestamp,
			MaxTimestamp:           w.maxTimestamp,
			MinDeletionTime:        w.minDeletionTime,
			MaxDeletionTime:        w.maxDeletionTime,
			MinTTL:                 w.minTTL,
			MaxTTL:                 w.maxTTL,
			CompressionRatio:       ratio,
			RepairedAt:             0,
			ColumnsCount:           w.columnsCount,
			RowsCount:              w.rowsCount,
			OriginatingHostID:      hostID,
		},
	}
	sh := &stats.SerializationHeader
	pkTypes := ""
	for i, c := range w.schema.PartitionKeyColumns() {
		if i > 0 {
			pkTypes += ","
		}
		pkTypes += c.Type.Name()
	}
	sh.PKTypeName = pkTypes
	for _, c := range w.schema.ClusteringColumns() {
		sh.ClusteringKeyTypesNames = append(sh.ClusteringKeyTypesNames, c.Type.Name())
	}
	for _, c := range w.schema.StaticColumns() {
		sh.StaticColumns = append(sh.StaticColumns, ColumnDesc{Name: c.Name, TypeName: c.Type.Name()})
	}
	for _, c := range w.schema.RegularColumns() {
		sh.RegularColumns = append(sh.RegularColumns, ColumnDesc{Name: c.Name, TypeName: c.Type.Name()})
	}
	return stats
}

// hostID identifies the writing process across the components of one run.
var hostID = uuid.New()

// estimatePartitionSizes builds a coarse power-of-two histogram of partition
// sizes out of consecutive index positions.
func estimatePartitionSizes(index []IndexEntry, dataLen uint64) []HistogramBucket {
	counts := map[int64]int64{}
	for i := range index {
		end := dataLen
		if i+1 < len(index) {
			end = index[i+1].Position
		}
		size := int64(end - index[i].Position)
		bucket := int64(1)
		for bucket < size {
			bucket <<= 1
		}
		counts[bucket]++
	}
	buckets := make([]HistogramBucket, 0, len(counts))
	for off, val := range counts {
		buckets = append(buckets, HistogramBucket{Offset: off, Value: val})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Offset < buckets[j].Offset })
	return buckets
}

// Abort removes every file the writer created. Safe to call after a failed
// Close.
func (w *Writer) Abort() {
	if w.finished {
		return
	}
	w.aborted = true
	if w.dataFile != nil {
		_ = w.dataFile.Close()
	}
	for _, path := range w.written {
		_ = os.Remove(path)
	}
}
