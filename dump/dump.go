// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package dump

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// NewDataConsumer returns the dump-data consumer in the requested format.
// Both formats preserve event order; only the JSON form round-trips through
// the parser.
func NewDataConsumer(s *schema.Schema, out io.Writer, format OutputFormat) base.Consumer {
	if format == FormatText {
		return &textDumper{schema: s, out: out}
	}
	return &jsonDumper{schema: s, w: NewWriter(out)}
}

// textDumper prints one line per stream event. Diagnostic only.
type textDumper struct {
	schema *schema.Schema
	out    io.Writer
}

func (d *textDumper) StartOfStream(ctx context.Context) error {
	_, err := fmt.Fprintln(d.out, "{stream_start}")
	return err
}

func (d *textDumper) NewSSTable(ctx context.Context, path string) (base.Continuation, error) {
	if path == "" {
		_, err := fmt.Fprintln(d.out, "{sstable_start}")
		return base.Continue, err
	}
	_, err := fmt.Fprintf(d.out, "{sstable_start: filename %s}\n", path)
	return base.Continue, err
}

func (d *textDumper) ConsumePartitionStart(ctx context.Context, ps *base.PartitionStart) (base.Continuation, error) {
	_, err := fmt.Fprintf(d.out, "{partition_start: key %s %s, token %d, %s}\n",
		ps.Key, d.schema.FormatPartitionKey(ps.Key), ps.Token, ps.Tombstone)
	return base.Continue, err
}

func (d *textDumper) ConsumeStaticRow(ctx context.Context, sr *base.StaticRow) (base.Continuation, error) {
	_, err := fmt.Fprintf(d.out, "{static_row: %s}\n", d.formatRow(&sr.Cells, schema.StaticColumn))
	return base.Continue, err
}

func (d *textDumper) ConsumeClusteringRow(ctx context.Context, cr *base.ClusteringRow) (base.Continuation, error) {
	line := fmt.Sprintf("{clustering_row: key %s %s", cr.Key, d.schema.FormatClusteringKey(cr.Key))
	if !cr.Tombstone.IsEmpty() {
		line += fmt.Sprintf(", %s", cr.Tombstone)
	}
	if !cr.Shadowable.IsEmpty() {
		line += fmt.Sprintf(", shadowable %s", cr.Shadowable)
	}
	if cr.Marker != nil {
		line += fmt.Sprintf(", marker ts=%d", cr.Marker.Timestamp)
	}
	line += fmt.Sprintf(", %s}", d.formatRow(&cr.Cells, schema.RegularColumn))
	_, err := fmt.Fprintln(d.out, line)
	return base.Continue, err
}

func (d *textDumper) ConsumeRangeTombstoneChange(ctx context.Context, rtc *base.RangeTombstoneChange) (base.Continuation, error) {
	_, err := fmt.Fprintf(d.out, "{range_tombstone_change: pos %s %s, %s}\n",
		rtc.Position.Key, rtc.Position.Weight, rtc.Tombstone)
	return base.Continue, err
}

func (d *textDumper) ConsumePartitionEnd(ctx context.Context) (base.Continuation, error) {
	_, err := fmt.Fprintln(d.out, "{partition_end}")
	return base.Continue, err
}

func (d *textDumper) EndOfSSTable(ctx context.Context) (base.Continuation, error) {
	_, err := fmt.Fprintln(d.out, "{sstable_end}")
	return base.Continue, err
}

func (d *textDumper) EndOfStream(ctx context.Context) error {
	_, err := fmt.Fprintln(d.out, "{stream_end}")
	return err
}

func (d *textDumper) formatRow(r *base.Row, kind schema.ColumnKind) string {
	s := "cols ["
	for i := range r.Cells {
		if i > 0 {
			s += ", "
		}
		name := fmt.Sprintf("#%d", r.Cells[i].Column)
		if col, err := d.schema.ColumnAt(kind, r.Cells[i].Column); err == nil {
			name = col.Name
		}
		s += fmt.Sprintf("%s=%s", name, r.Cells[i].Cell.Kind)
	}
	return s + "]"
}

// jsonDumper emits the structured dump of §dump-data. It is the write half
// of the round-trip; the parse package is the read half.
type jsonDumper struct {
	schema *schema.Schema
	w      *Writer

	clusteringArrayOpen bool
}

func (d *jsonDumper) StartOfStream(ctx context.Context) error {
	d.w.StartStream()
	return nil
}

func (d *jsonDumper) NewSSTable(ctx context.Context, path string) (base.Continuation, error) {
	d.w.SSTableKey(path)
	d.w.StartArray()
	return base.Continue, nil
}

func (d *jsonDumper) ConsumePartitionStart(ctx context.Context, ps *base.PartitionStart) (base.Continuation, error) {
	d.clusteringArrayOpen = false
	d.w.StartObject()
	d.w.Key("key")
	d.w.PartitionKey(d.schema, ps.Key, true)
	if !ps.Tombstone.IsEmpty() {
		d.w.Key("tombstone")
		d.w.Tombstone(ps.Tombstone)
	}
	return base.Continue, nil
}

func (d *jsonDumper) ConsumeStaticRow(ctx context.Context, sr *base.StaticRow) (base.Continuation, error) {
	d.w.Key("static_row")
	if err := d.columns(&sr.Cells, schema.StaticColumn); err != nil {
		return base.Stop, err
	}
	return base.Continue, nil
}

func (d *jsonDumper) ConsumeClusteringRow(ctx context.Context, cr *base.ClusteringRow) (base.Continuation, error) {
	d.ensureClusteringArray()
	d.w.StartObject()
	d.w.Key("type")
	d.w.String("clustering-row")
	d.w.Key("key")
	d.w.ClusteringKey(d.schema, cr.Key)
	if !cr.Tombstone.IsEmpty() || !cr.Shadowable.IsEmpty() {
		d.w.Key("tombstone")
		d.w.Tombstone(cr.Tombstone)
		d.w.Key("shadowable_tombstone")
		d.w.Tombstone(cr.Shadowable)
	}
	if cr.Marker != nil {
		d.w.Key("marker")
		d.w.StartObject()
		d.w.Key("timestamp")
		d.w.Int64(cr.Marker.Timestamp)
		if cr.Marker.HasTTL {
			d.w.Key("ttl")
			d.w.String(TTLString(cr.Marker.TTL))
			d.w.Key("expiry")
			d.w.String(DateString(cr.Marker.Expiry))
		}
		d.w.EndObject()
	}
	d.w.Key("columns")
	if err := d.columns(&cr.Cells, schema.RegularColumn); err != nil {
		return base.Stop, err
	}
	d.w.EndObject()
	return base.Continue, nil
}

func (d *jsonDumper) ConsumeRangeTombstoneChange(ctx context.Context, rtc *base.RangeTombstoneChange) (base.Continuation, error) {
	d.ensureClusteringArray()
	d.w.StartObject()
	d.w.Key("type")
	d.w.String("range-tombstone-change")
	if len(rtc.Position.Key) > 0 {
		d.w.Key("key")
		d.w.ClusteringKey(d.schema, rtc.Position.Key)
	}
	d.w.Key("weight")
	d.w.Int(int(rtc.Position.Weight))
	d.w.Key("tombstone")
	d.w.Tombstone(rtc.Tombstone)
	d.w.EndObject()
	return base.Continue, nil
}

func (d *jsonDumper) ConsumePartitionEnd(ctx context.Context) (base.Continuation, error) {
	if d.clusteringArrayOpen {
		d.w.EndArray()
		d.clusteringArrayOpen = false
	}
	d.w.EndObject()
	return base.Continue, nil
}

func (d *jsonDumper) EndOfSSTable(ctx context.Context) (base.Continuation, error) {
	d.w.EndArray()
	return base.Continue, nil
}

func (d *jsonDumper) EndOfStream(ctx context.Context) error {
	d.w.EndStream()
	return d.w.Flush()
}

func (d *jsonDumper) ensureClusteringArray() {
	if !d.clusteringArrayOpen {
		d.w.Key("clustering_elements")
		d.w.StartArray()
		d.clusteringArrayOpen = true
	}
}

func (d *jsonDumper) columns(r *base.Row, kind schema.ColumnKind) error {
	d.w.StartObject()
	for i := range r.Cells {
		col, err := d.schema.ColumnAt(kind, r.Cells[i].Column)
		if err != nil {
			return err
		}
		d.w.Key(col.Name)
		if err := d.cell(&r.Cells[i].Cell, col); err != nil {
			return err
		}
	}
	d.w.EndObject()
	return nil
}

func (d *jsonDumper) cell(c *base.Cell, col *schema.Column) error {
	switch c.Kind {
	case base.CellAtomic:
		d.atomicCell(c, col)
	case base.CellCounter:
		d.w.StartObject()
		d.w.Key("is_live")
		d.w.Bool(true)
		d.w.Key("timestamp")
		d.w.Int64(c.Timestamp)
		d.w.Key("shards")
		d.w.StartArray()
		for _, s := range c.Shards {
			d.w.StartObject()
			d.w.Key("id")
			d.w.String(s.ID.String())
			d.w.Key("value")
			d.w.Int64(s.Value)
			d.w.Key("clock")
			d.w.Int64(s.Clock)
			d.w.EndObject()
		}
		d.w.EndArray()
		d.w.EndObject()
	case base.CellCollection:
		d.w.StartObject()
		if !c.Tombstone.IsEmpty() {
			d.w.Key("tombstone")
			d.w.Tombstone(c.Tombstone)
		}
		d.w.Key("cells")
		d.w.StartObject()
		for i := range c.Elements {
			d.w.Key(hex.EncodeToString(c.Elements[i].Key))
			d.atomicCell(&c.Elements[i].Cell, nil)
		}
		d.w.EndObject()
		d.w.EndObject()
	default:
		return errors.AssertionFailedf("dumping cell of kind %s", c.Kind)
	}
	return nil
}

// atomicCell renders a live or dead atomic cell. A nil column formats the
// value as raw hex (collection sub-cells, whose element types the schema
// does not carry).
func (d *jsonDumper) atomicCell(c *base.Cell, col *schema.Column) {
	d.w.StartObject()
	d.w.Key("is_live")
	d.w.Bool(c.Live)
	d.w.Key("timestamp")
	d.w.Int64(c.Timestamp)
	if c.Live {
		if c.HasTTL {
			d.w.Key("ttl")
			d.w.String(TTLString(c.TTL))
			d.w.Key("expiry")
			d.w.String(DateString(c.Expiry))
		}
		d.w.Key("value")
		if col != nil {
			d.w.String(col.Type.Format(c.Value))
		} else {
			d.w.String(hex.EncodeToString(c.Value))
		}
	} else {
		d.w.Key("deletion_time")
		d.w.String(DateString(c.DeletionTime))
	}
	d.w.EndObject()
}
