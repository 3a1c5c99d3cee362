// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
)

// Fragment wire format, all fields in encoder primitives:
//
//	partition-start        kind, key bytes, tombstone
//	static-row             kind, row
//	clustering-row         kind, key bytes, tombstone, shadowable tombstone,
//	                       marker, row
//	range-tombstone-change kind, key bytes, weight byte, tombstone
//	partition-end          kind
//
//	tombstone              presence byte, [timestamp varint, deletion-time varint]
//	marker                 presence byte, [timestamp varint, ttl-presence byte,
//	                       [ttl varint, expiry varint]]
//	row                    cell count uvarint, then per cell: column id
//	                       uvarint, cell
//	cell                   kind byte, then per kind (see encodeCell)

func encodeFragment(e *encoder, f *base.Fragment) {
	e.byteVal(byte(f.Kind()))
	switch f.Kind() {
	case base.KindPartitionStart:
		ps := f.PartitionStart()
		e.bytes(ps.Key)
		encodeTombstone(e, ps.Tombstone)
	case base.KindStaticRow:
		encodeRow(e, &f.StaticRow().Cells)
	case base.KindClusteringRow:
		cr := f.ClusteringRow()
		e.bytes(cr.Key)
		encodeTombstone(e, cr.Tombstone)
		encodeTombstone(e, cr.Shadowable)
		encodeMarker(e, cr.Marker)
		encodeRow(e, &cr.Cells)
	case base.KindRangeTombstoneChange:
		rtc := f.RangeTombstoneChange()
		e.bytes(rtc.Position.Key)
		e.byteVal(byte(rtc.Position.Weight))
		encodeTombstone(e, rtc.Tombstone)
	case base.KindPartitionEnd:
	}
}

func encodeTombstone(e *encoder, t base.Tombstone) {
	if t.IsEmpty() {
		e.boolVal(false)
		return
	}
	e.boolVal(true)
	e.varint(t.Timestamp)
	e.varint(t.DeletionTime)
}

func encodeMarker(e *encoder, m *base.RowMarker) {
	if m == nil {
		e.boolVal(false)
		return
	}
	e.boolVal(true)
	e.varint(m.Timestamp)
	e.boolVal(m.HasTTL)
	if m.HasTTL {
		e.varint(m.TTL)
		e.varint(m.Expiry)
	}
}

func encodeRow(e *encoder, r *base.Row) {
	e.uvarint(uint64(len(r.Cells)))
	for i := range r.Cells {
		e.uvarint(uint64(r.Cells[i].Column))
		encodeCell(e, &r.Cells[i].Cell)
	}
}

func encodeCell(e *encoder, c *base.Cell) {
	e.byteVal(byte(c.Kind))
	switch c.Kind {
	case base.CellAtomic:
		e.boolVal(c.Live)
		e.varint(c.Timestamp)
		if c.Live {
			e.bytes(c.Value)
			e.boolVal(c.HasTTL)
			if c.HasTTL {
				e.varint(c.TTL)
				e.varint(c.Expiry)
			}
		} else {
			e.varint(c.DeletionTime)
		}
	case base.CellCounter:
		e.varint(c.Timestamp)
		e.uvarint(uint64(len(c.Shards)))
		for _, s := range c.Shards {
			e.uuidVal(s.ID)
			e.varint(s.Value)
			e.varint(s.Clock)
		}
	case base.CellCollection:
		encodeTombstone(e, c.Tombstone)
		e.uvarint(uint64(len(c.Elements)))
		for i := range c.Elements {
			e.bytes(c.Elements[i].Key)
			encodeCell(e, &c.Elements[i].Cell)
		}
	}
}

// decodeFragment reads one fragment. io.EOF before the kind byte means a
// clean end of stream; anything else truncated mid-fragment is an error.
func decodeFragment(d *decoder) (base.Fragment, error) {
	kind, err := d.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return base.Fragment{}, io.EOF
		}
		return base.Fragment{}, errors.Wrap(err, "decoding fragment kind")
	}
	switch base.Kind(kind) {
	case base.KindPartitionStart:
		key, err := d.bytes("partition key")
		if err != nil {
			return base.Fragment{}, err
		}
		tomb, err := decodeTombstone(d)
		if err != nil {
			return base.Fragment{}, err
		}
		return base.MakePartitionStart(&base.PartitionStart{Key: base.PartitionKey(key), Tombstone: tomb}), nil
	case base.KindStaticRow:
		row, err := decodeRow(d)
		if err != nil {
			return base.Fragment{}, err
		}
		return base.MakeStaticRow(&base.StaticRow{Cells: row}), nil
	case base.KindClusteringRow:
		cr := &base.ClusteringRow{}
		key, err := d.bytes("clustering key")
		if err != nil {
			return base.Fragment{}, err
		}
		cr.Key = base.ClusteringKey(key)
		if cr.Tombstone, err = decodeTombstone(d); err != nil {
			return base.Fragment{}, err
		}
		if cr.Shadowable, err = decodeTombstone(d); err != nil {
			return base.Fragment{}, err
		}
		if cr.Marker, err = decodeMarker(d); err != nil {
			return base.Fragment{}, err
		}
		if cr.Cells, err = decodeRow(d); err != nil {
			return base.Fragment{}, err
		}
		return base.MakeClusteringRow(cr), nil
	case base.KindRangeTombstoneChange:
		rtc := &base.RangeTombstoneChange{}
		key, err := d.bytes("range tombstone change key")
		if err != nil {
			return base.Fragment{}, err
		}
		rtc.Position.Key = base.ClusteringKey(key)
		w, err := d.byteVal("bound weight")
		if err != nil {
			return base.Fragment{}, err
		}
		rtc.Position.Weight = base.BoundWeight(int8(w))
		if rtc.Position.Weight != base.BeforeAll && rtc.Position.Weight != base.AfterAll {
			return base.Fragment{}, errors.Newf("invalid bound weight %d in range tombstone change", int8(w))
		}
		if rtc.Tombstone, err = decodeTombstone(d); err != nil {
			return base.Fragment{}, err
		}
		return base.MakeRangeTombstoneChange(rtc), nil
	case base.KindPartitionEnd:
		return base.MakePartitionEnd(), nil
	}
	return base.Fragment{}, errors.Newf("invalid fragment kind %d", kind)
}

func decodeTombstone(d *decoder) (base.Tombstone, error) {
	present, err := d.boolVal("tombstone presence")
	if err != nil {
		return base.Tombstone{}, err
	}
	if !present {
		return base.Tombstone{}, nil
	}
	var t base.Tombstone
	if t.Timestamp, err = d.varint("tombstone timestamp"); err != nil {
		return base.Tombstone{}, err
	}
	if t.DeletionTime, err = d.varint("tombstone deletion time"); err != nil {
		return base.Tombstone{}, err
	}
	return t, nil
}

func decodeMarker(d *decoder) (*base.RowMarker, error) {
	present, err := d.boolVal("marker presence")
	if err != nil || !present {
		return nil, err
	}
	m := &base.RowMarker{}
	if m.Timestamp, err = d.varint("marker timestamp"); err != nil {
		return nil, err
	}
	if m.HasTTL, err = d.boolVal("marker ttl presence"); err != nil {
		return nil, err
	}
	if m.HasTTL {
		if m.TTL, err = d.varint("marker ttl"); err != nil {
			return nil, err
		}
		if m.Expiry, err = d.varint("marker expiry"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeRow(d *decoder) (base.Row, error) {
	n, err := d.uvarint("cell count")
	if err != nil {
		return base.Row{}, err
	}
	var row base.Row
	row.Cells = make([]base.ColumnCell, 0, n)
	for i := uint64(0); i < n; i++ {
		id, err := d.uvarint("column id")
		if err != nil {
			return base.Row{}, err
		}
		cell, err := decodeCell(d)
		if err != nil {
			return base.Row{}, err
		}
		row.Cells = append(row.Cells, base.ColumnCell{Column: base.ColumnID(id), Cell: cell})
	}
	return row, nil
}

func decodeCell(d *decoder) (base.Cell, error) {
	kind, err := d.byteVal("cell kind")
	if err != nil {
		return base.Cell{}, err
	}
	c := base.Cell{Kind: base.CellKind(kind)}
	switch c.Kind {
	case base.CellAtomic:
		if c.Live, err = d.boolVal("cell liveness"); err != nil {
			return base.Cell{}, err
		}
		if c.Timestamp, err = d.varint("cell timestamp"); err != nil {
			return base.Cell{}, err
		}
		if c.Live {
			if c.Value, err = d.bytes("cell value"); err != nil {
				return base.Cell{}, err
			}
			if c.HasTTL, err = d.boolVal("cell ttl presence"); err != nil {
				return base.Cell{}, err
			}
			if c.HasTTL {
				if c.TTL, err = d.varint("cell ttl"); err != nil {
					return base.Cell{}, err
				}
				if c.Expiry, err = d.varint("cell expiry"); err != nil {
					return base.Cell{}, err
				}
			}
		} else if c.DeletionTime, err = d.varint("cell deletion time"); err != nil {
			return base.Cell{}, err
		}
	case base.CellCounter:
		c.Live = true
		if c.Timestamp, err = d.varint("counter timestamp"); err != nil {
			return base.Cell{}, err
		}
		n, err := d.uvarint("counter shard count")
		if err != nil {
			return base.Cell{}, err
		}
		c.Shards = make([]base.CounterShard, n)
		for i := range c.Shards {
			if c.Shards[i].ID, err = d.uuidVal("counter shard id"); err != nil {
				return base.Cell{}, err
			}
			if c.Shards[i].Value, err = d.varint("counter shard value"); err != nil {
				return base.Cell{}, err
			}
			if c.Shards[i].Clock, err = d.varint("counter shard clock"); err != nil {
				return base.Cell{}, err
			}
		}
	case base.CellCollection:
		if c.Tombstone, err = decodeTombstone(d); err != nil {
			return base.Cell{}, err
		}
		n, err := d.uvarint("collection element count")
		if err != nil {
			return base.Cell{}, err
		}
		c.Elements = make([]base.CollectionElement, n)
		for i := range c.Elements {
			if c.Elements[i].Key, err = d.bytes("collection element key"); err != nil {
				return base.Cell{}, err
			}
			if c.Elements[i].Cell, err = decodeCell(d); err != nil {
				return base.Cell{}, err
			}
		}
	default:
		return base.Cell{}, errors.Newf("invalid cell kind %d", kind)
	}
	return c, nil
}
