// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import "fmt"

// Kind enumerates the fragment variants of a partition stream.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindPartitionStart
	KindStaticRow
	KindClusteringRow
	KindRangeTombstoneChange
	KindPartitionEnd
)

var kindNames = [...]string{
	KindInvalid:              "invalid",
	KindPartitionStart:       "partition-start",
	KindStaticRow:            "static-row",
	KindClusteringRow:        "clustering-row",
	KindRangeTombstoneChange: "range-tombstone-change",
	KindPartitionEnd:         "partition-end",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// PartitionStart opens a partition. The token is derived from the key by the
// partitioner and carried alongside so downstream stages never re-hash.
type PartitionStart struct {
	Key       PartitionKey
	Token     Token
	Tombstone Tombstone
}

func (ps *PartitionStart) String() string {
	return fmt.Sprintf("{partition_start: key %s, token %d, %s}", ps.Key, ps.Token, ps.Tombstone)
}

// StaticRow carries the partition's static cells. At most one per partition,
// directly after PartitionStart.
type StaticRow struct {
	Cells Row
}

func (sr *StaticRow) String() string {
	return fmt.Sprintf("{static_row: %d cell(s)}", len(sr.Cells.Cells))
}

// ClusteringRow is one row of the partition.
type ClusteringRow struct {
	Key        ClusteringKey
	Tombstone  Tombstone
	Shadowable Tombstone
	Marker     *RowMarker
	Cells      Row
}

func (cr *ClusteringRow) Position() Position {
	return RowPosition(cr.Key)
}

func (cr *ClusteringRow) String() string {
	return fmt.Sprintf("{clustering_row: key %s, %s, %d cell(s)}", cr.Key, cr.Tombstone, len(cr.Cells.Cells))
}

// RangeTombstoneChange switches the active range tombstone at a position.
// The position's weight is never Equal.
type RangeTombstoneChange struct {
	Position  Position
	Tombstone Tombstone
}

func (rtc *RangeTombstoneChange) String() string {
	return fmt.Sprintf("{range_tombstone_change: pos %s, %s}", rtc.Position, rtc.Tombstone)
}

// Fragment is a tagged variant over the five stream element kinds. It owns
// all of its byte buffers: the producer must not reuse them after handing
// the fragment over.
type Fragment struct {
	kind  Kind
	start *PartitionStart
	srow  *StaticRow
	crow  *ClusteringRow
	rtc   *RangeTombstoneChange
}

func MakePartitionStart(ps *PartitionStart) Fragment {
	return Fragment{kind: KindPartitionStart, start: ps}
}

func MakeStaticRow(sr *StaticRow) Fragment {
	return Fragment{kind: KindStaticRow, srow: sr}
}

func MakeClusteringRow(cr *ClusteringRow) Fragment {
	return Fragment{kind: KindClusteringRow, crow: cr}
}

func MakeRangeTombstoneChange(rtc *RangeTombstoneChange) Fragment {
	return Fragment{kind: KindRangeTombstoneChange, rtc: rtc}
}

func MakePartitionEnd() Fragment {
	return Fragment{kind: KindPartitionEnd}
}

func (f *Fragment) Kind() Kind {
	return f.kind
}

// PartitionStart returns the payload of a KindPartitionStart fragment.
func (f *Fragment) PartitionStart() *PartitionStart {
	if f.kind != KindPartitionStart {
		panic(fmt.Sprintf("fragment is %s, not partition-start", f.kind))
	}
	return f.start
}

func (f *Fragment) StaticRow() *StaticRow {
	if f.kind != KindStaticRow {
		panic(fmt.Sprintf("fragment is %s, not static-row", f.kind))
	}
	return f.srow
}

func (f *Fragment) ClusteringRow() *ClusteringRow {
	if f.kind != KindClusteringRow {
		panic(fmt.Sprintf("fragment is %s, not clustering-row", f.kind))
	}
	return f.crow
}

func (f *Fragment) RangeTombstoneChange() *RangeTombstoneChange {
	if f.kind != KindRangeTombstoneChange {
		panic(fmt.Sprintf("fragment is %s, not range-tombstone-change", f.kind))
	}
	return f.rtc
}

func (f *Fragment) String() string {
	switch f.kind {
	case KindPartitionStart:
		return f.start.String()
	case KindStaticRow:
		return f.srow.String()
	case KindClusteringRow:
		return f.crow.String()
	case KindRangeTombstoneChange:
		return f.rtc.String()
	case KindPartitionEnd:
		return "{partition_end}"
	}
	return "{invalid}"
}

// Position returns the clustering position of a clustering element fragment.
func (f *Fragment) Position() Position {
	switch f.kind {
	case KindClusteringRow:
		return f.crow.Position()
	case KindRangeTombstoneChange:
		return f.rtc.Position
	}
	panic(fmt.Sprintf("fragment %s has no clustering position", f.kind))
}
