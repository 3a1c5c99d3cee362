// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package stream

import (
	"bytes"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// CounterMerger reconciles two counter cells. The rule is owned by the
// store, so the codec layer supplies it; the combiner only plugs it in.
type CounterMerger func(a, b base.Cell) base.Cell

// reconcileCells merges two cells of one column under last-write-wins. The
// column's type provides the tiebreak between equal-timestamp live cells;
// col may be nil when the column is unknown, falling back to raw bytes.
func reconcileCells(col *schema.Column, a, b base.Cell, counters CounterMerger) base.Cell {
	switch {
	case a.Kind == base.CellCounter && b.Kind == base.CellCounter:
		return counters(a, b)
	case a.Kind == base.CellCollection && b.Kind == base.CellCollection:
		return reconcileCollections(a, b, counters)
	case a.Kind != b.Kind:
		// Differing kinds under one column only happen on corrupt input;
		// fall back to the timestamp.
		if b.Timestamp > a.Timestamp {
			return b
		}
		return a
	}
	return reconcileAtomic(col, a, b)
}

func reconcileAtomic(col *schema.Column, a, b base.Cell) base.Cell {
	if a.Timestamp != b.Timestamp {
		if b.Timestamp > a.Timestamp {
			return b
		}
		return a
	}
	// Equal timestamps: deletes win over writes, then the later deletion,
	// then the greater value per the column's type, then the expiring cell.
	switch {
	case !a.Live && !b.Live:
		if b.DeletionTime > a.DeletionTime {
			return b
		}
		return a
	case !a.Live:
		return a
	case !b.Live:
		return b
	}
	var c int
	if col != nil {
		c = col.Type.Compare(a.Value, b.Value)
	} else {
		c = bytes.Compare(a.Value, b.Value)
	}
	switch {
	case c < 0:
		return b
	case c > 0:
		return a
	}
	if b.HasTTL && !a.HasTTL {
		return b
	}
	return a
}

func reconcileCollections(a, b base.Cell, counters CounterMerger) base.Cell {
	out := base.Cell{
		Kind:      base.CellCollection,
		Tombstone: base.MaxTombstone(a.Tombstone, b.Tombstone),
	}
	i, j := 0, 0
	for i < len(a.Elements) || j < len(b.Elements) {
		switch {
		case j >= len(b.Elements):
			out.Elements = append(out.Elements, a.Elements[i])
			i++
		case i >= len(a.Elements):
			out.Elements = append(out.Elements, b.Elements[j])
			j++
		default:
			switch c := bytes.Compare(a.Elements[i].Key, b.Elements[j].Key); {
			case c < 0:
				out.Elements = append(out.Elements, a.Elements[i])
				i++
			case c > 0:
				out.Elements = append(out.Elements, b.Elements[j])
				j++
			default:
				merged := reconcileAtomic(nil, a.Elements[i].Cell, b.Elements[j].Cell)
				out.Elements = append(out.Elements, base.CollectionElement{Key: a.Elements[i].Key, Cell: merged})
				i++
				j++
			}
		}
	}
	return out
}

// reconcileRows folds src into dst, column by column.
func reconcileRows(dst, src *base.Row, colAt func(base.ColumnID) *schema.Column, counters CounterMerger) {
	for i := range src.Cells {
		id := src.Cells[i].Column
		if existing, ok := dst.Get(id); ok {
			dst.Set(id, reconcileCells(colAt(id), existing, src.Cells[i].Cell, counters))
		} else {
			dst.Set(id, src.Cells[i].Cell)
		}
	}
}

// reconcileMarkers keeps the later row marker.
func reconcileMarkers(a, b *base.RowMarker) *base.RowMarker {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Timestamp > a.Timestamp:
		return b
	}
	return a
}
