// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package stream

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// CombinedReader merges N readers over one schema into a single ordered
// fragment stream. Partitions are the ordered union of the inputs; when
// several inputs carry the same partition, their elements merge under the
// store's reconciliation rules and their range tombstones compose into one
// monotone change sequence. Exactly one partition start and one partition
// end come out per logical partition.
type CombinedReader struct {
	schema   *schema.Schema
	counters CounterMerger
	inputs   []*combineInput

	queue       []base.Fragment
	inPartition bool
	emitted     base.Tombstone // aggregate range tombstone last emitted
	exhausted   bool
}

type combineInput struct {
	r    Reader
	head *base.Fragment
	eof  bool

	active    bool           // contributes to the current partition
	done      bool           // consumed its partition end already
	rangeTomb base.Tombstone // the input's active range tombstone
}

// Combine builds a CombinedReader. The counter merger comes from the codec
// layer; a nil merger keeps the first cell seen.
func Combine(s *schema.Schema, readers []Reader, counters CounterMerger) *CombinedReader {
	if counters == nil {
		counters = func(a, b base.Cell) base.Cell { return a }
	}
	cr := &CombinedReader{schema: s, counters: counters}
	for _, r := range readers {
		cr.inputs = append(cr.inputs, &combineInput{r: r})
	}
	return cr
}

// Next implements Reader.
func (cr *CombinedReader) Next(ctx context.Context) (base.Fragment, bool, error) {
	for len(cr.queue) == 0 {
		if cr.exhausted {
			return base.Fragment{}, false, nil
		}
		if err := cr.produce(ctx); err != nil {
			return base.Fragment{}, false, err
		}
	}
	f := cr.queue[0]
	cr.queue = cr.queue[1:]
	return f, true, nil
}

// NextPartition implements Reader: the merged stream's native skip drains
// the current partition.
func (cr *CombinedReader) NextPartition(ctx context.Context) error {
	if !cr.inPartition && len(cr.queue) == 0 {
		return nil
	}
	for {
		f, ok, err := cr.Next(ctx)
		if err != nil {
			return err
		}
		if !ok || f.Kind() == base.KindPartitionEnd {
			return nil
		}
	}
}

// Close closes every input; the first error wins.
func (cr *CombinedReader) Close() error {
	var firstErr error
	for _, in := range cr.inputs {
		if err := in.r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (in *combineInput) fill(ctx context.Context) error {
	if in.head != nil || in.eof {
		return nil
	}
	f, ok, err := in.r.Next(ctx)
	if err != nil {
		return err
	}
	if !ok {
		in.eof = true
		return nil
	}
	in.head = &f
	return nil
}

func (in *combineInput) advance() {
	in.head = nil
}

func (cr *CombinedReader) produce(ctx context.Context) error {
	if !cr.inPartition {
		return cr.openPartition(ctx)
	}
	return cr.produceClusteringElement(ctx)
}

// openPartition selects the smallest head partition across inputs, merges
// the co-located partition starts and any static rows, and queues them.
func (cr *CombinedReader) openPartition(ctx context.Context) error {
	var best *base.PartitionStart
	for _, in := range cr.inputs {
		in.active, in.done = false, false
		in.rangeTomb = base.Tombstone{}
		if err := in.fill(ctx); err != nil {
			return err
		}
		if in.eof || in.head == nil {
			continue
		}
		if in.head.Kind() != base.KindPartitionStart {
			return errors.AssertionFailedf("combining input positioned at %s, want partition-start", in.head.Kind())
		}
		ps := in.head.PartitionStart()
		if best == nil || cr.schema.ComparePartitionKeys(ps.Key, best.Key) < 0 {
			best = ps
		}
	}
	if best == nil {
		cr.exhausted = true
		return nil
	}
	merged := &base.PartitionStart{
		Key:   append(base.PartitionKey(nil), best.Key...),
		Token: best.Token,
	}
	for _, in := range cr.inputs {
		if in.eof || in.head == nil {
			continue
		}
		ps := in.head.PartitionStart()
		if cr.schema.ComparePartitionKeys(ps.Key, merged.Key) != 0 {
			continue
		}
		in.active = true
		merged.Tombstone = base.MaxTombstone(merged.Tombstone, ps.Tombstone)
		in.advance()
	}
	cr.inPartition = true
	cr.emitted = base.Tombstone{}
	cr.queue = append(cr.queue, base.MakePartitionStart(merged))

	// A static row, if any input carries one, comes directly after the
	// partition start.
	var static *base.StaticRow
	for _, in := range cr.inputs {
		if !in.active {
			continue
		}
		if err := in.fill(ctx); err != nil {
			return err
		}
		if in.head == nil || in.head.Kind() != base.KindStaticRow {
			continue
		}
		sr := in.head.StaticRow()
		if static == nil {
			static = &base.StaticRow{}
		}
		reconcileRows(&static.Cells, &sr.Cells, cr.staticColumnAt, cr.counters)
		in.advance()
	}
	if static != nil {
		cr.queue = append(cr.queue, base.MakeStaticRow(static))
	}
	return nil
}

// produceClusteringElement merges the next clustering position, queueing at
// most one fragment (possibly none, when co-located range tombstone changes
// cancel out in the aggregate).
func (cr *CombinedReader) produceClusteringElement(ctx context.Context) error {
	var minPos base.Position
	havePos := false
	remaining := 0
	for _, in := range cr.inputs {
		if !in.active || in.done {
			continue
		}
		if err := in.fill(ctx); err != nil {
			return err
		}
		if in.head == nil {
			return errors.AssertionFailedf("combining input ended mid-partition")
		}
		if in.head.Kind() == base.KindPartitionEnd {
			in.done = true
			in.advance()
			continue
		}
		remaining++
		pos := in.head.Position()
		if !havePos {
			minPos, havePos = pos, true
			continue
		}
		c, err := cr.schema.ComparePositions(pos, minPos)
		if err != nil {
			return err
		}
		if c < 0 {
			minPos = pos
		}
	}
	if remaining == 0 {
		cr.inPartition = false
		cr.queue = append(cr.queue, base.MakePartitionEnd())
		return nil
	}

	// Gather every input head at the minimum position. The position's
	// weight separates rows from range tombstone changes, so the gathered
	// heads are all of one kind.
	var row *base.ClusteringRow
	sawRTC := false
	for _, in := range cr.inputs {
		if !in.active || in.done || in.head == nil {
			continue
		}
		c, err := cr.schema.ComparePositions(in.head.Position(), minPos)
		if err != nil {
			return err
		}
		if c != 0 {
			continue
		}
		switch in.head.Kind() {
		case base.KindClusteringRow:
			src := in.head.ClusteringRow()
			if row == nil {
				row = &base.ClusteringRow{Key: append(base.ClusteringKey(nil), src.Key...)}
			}
			row.Tombstone = base.MaxTombstone(row.Tombstone, src.Tombstone)
			row.Shadowable = base.MaxTombstone(row.Shadowable, src.Shadowable)
			row.Marker = reconcileMarkers(row.Marker, src.Marker)
			reconcileRows(&row.Cells, &src.Cells, cr.regularColumnAt, cr.counters)
		case base.KindRangeTombstoneChange:
			in.rangeTomb = in.head.RangeTombstoneChange().Tombstone
			sawRTC = true
		default:
			return errors.AssertionFailedf("unexpected %s inside partition", in.head.Kind())
		}
		in.advance()
	}
	if row != nil {
		cr.queue = append(cr.queue, base.MakeClusteringRow(row))
		return nil
	}
	if sawRTC {
		// The merged stream's active tombstone is the strongest of the
		// inputs' active tombstones. Emit a change only when it moved.
		agg := base.Tombstone{}
		for _, in := range cr.inputs {
			if in.active && !in.done {
				agg = base.MaxTombstone(agg, in.rangeTomb)
			}
		}
		if agg != cr.emitted {
			cr.emitted = agg
			cr.queue = append(cr.queue, base.MakeRangeTombstoneChange(&base.RangeTombstoneChange{
				Position: base.Position{
					Key:    append(base.ClusteringKey(nil), minPos.Key...),
					Weight: minPos.Weight,
				},
				Tombstone: agg,
			}))
		}
	}
	return nil
}

func (cr *CombinedReader) staticColumnAt(id base.ColumnID) *schema.Column {
	col, err := cr.schema.ColumnAt(schema.StaticColumn, id)
	if err != nil {
		return nil
	}
	return col
}

func (cr *CombinedReader) regularColumnAt(id base.ColumnID) *schema.Column {
	col, err := cr.schema.ColumnAt(schema.RegularColumn, id)
	if err != nil {
		return nil
	}
	return col
}
