// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import (
	"fmt"

	"github.com/google/uuid"
)

// Tombstone marks data as deleted from Timestamp on, garbage-collectible
// after DeletionTime (seconds since the Unix epoch). The zero value is the
// empty tombstone.
type Tombstone struct {
	Timestamp    int64
	DeletionTime int64
}

func (t Tombstone) IsEmpty() bool {
	return t == Tombstone{}
}

func (t Tombstone) String() string {
	if t.IsEmpty() {
		return "{tombstone: none}"
	}
	return fmt.Sprintf("{tombstone: ts=%d, dt=%d}", t.Timestamp, t.DeletionTime)
}

// Supersedes reports whether t wins over o under last-write-wins
// reconciliation.
func (t Tombstone) Supersedes(o Tombstone) bool {
	if o.IsEmpty() {
		return !t.IsEmpty()
	}
	if t.IsEmpty() {
		return false
	}
	if t.Timestamp != o.Timestamp {
		return t.Timestamp > o.Timestamp
	}
	return t.DeletionTime > o.DeletionTime
}

// MaxTombstone returns the winning tombstone of the two.
func MaxTombstone(a, b Tombstone) Tombstone {
	if b.Supersedes(a) {
		return b
	}
	return a
}

// RowMarker records the liveness timestamp a row got from an INSERT,
// optionally expiring.
type RowMarker struct {
	Timestamp int64
	HasTTL    bool
	TTL       int64 // seconds
	Expiry    int64 // seconds since the Unix epoch
}

// CellKind discriminates the cell variants.
type CellKind uint8

const (
	CellAtomic CellKind = iota
	CellCounter
	CellCollection
)

func (k CellKind) String() string {
	switch k {
	case CellAtomic:
		return "atomic"
	case CellCounter:
		return "counter"
	case CellCollection:
		return "collection"
	}
	return fmt.Sprintf("CellKind(%d)", uint8(k))
}

// CounterShard is one replica's contribution to a counter cell.
type CounterShard struct {
	ID    uuid.UUID
	Value int64
	Clock int64
}

// CollectionElement is one entry of a collection cell, keyed by the
// serialized element key. The nested cell is always atomic.
type CollectionElement struct {
	Key  []byte
	Cell Cell
}

// Cell is a tagged union over the atomic, counter and collection variants.
// Only the fields of the active Kind are meaningful.
type Cell struct {
	Kind CellKind

	// Atomic and counter cells.
	Live         bool
	Timestamp    int64
	HasTTL       bool
	TTL          int64 // seconds
	Expiry       int64 // seconds since the Unix epoch
	Value        []byte
	DeletionTime int64 // seconds since the Unix epoch; dead cells only

	// Counter cells, ordered by shard id.
	Shards []CounterShard

	// Collection cells.
	Tombstone Tombstone
	Elements  []CollectionElement
}

// MakeLiveCell returns a live atomic cell without a TTL.
func MakeLiveCell(timestamp int64, value []byte) Cell {
	return Cell{Kind: CellAtomic, Live: true, Timestamp: timestamp, Value: value}
}

// MakeExpiringCell returns a live atomic cell with a TTL and expiry.
func MakeExpiringCell(timestamp int64, value []byte, ttl, expiry int64) Cell {
	return Cell{Kind: CellAtomic, Live: true, Timestamp: timestamp, Value: value, HasTTL: true, TTL: ttl, Expiry: expiry}
}

// MakeDeadCell returns a dead atomic cell.
func MakeDeadCell(timestamp, deletionTime int64) Cell {
	return Cell{Kind: CellAtomic, Live: false, Timestamp: timestamp, DeletionTime: deletionTime}
}

// ColumnID identifies a column within its kind (static or regular), dense in
// schema declaration order.
type ColumnID int

// ColumnCell pairs a column with its cell.
type ColumnCell struct {
	Column ColumnID
	Cell   Cell
}

// Row maps columns to cells, ordered by column id.
type Row struct {
	Cells []ColumnCell
}

// Set inserts or replaces the cell of the given column, keeping id order.
func (r *Row) Set(id ColumnID, c Cell) {
	i := 0
	for i < len(r.Cells) && r.Cells[i].Column < id {
		i++
	}
	if i < len(r.Cells) && r.Cells[i].Column == id {
		r.Cells[i].Cell = c
		return
	}
	r.Cells = append(r.Cells, ColumnCell{})
	copy(r.Cells[i+1:], r.Cells[i:])
	r.Cells[i] = ColumnCell{Column: id, Cell: c}
}

// Get returns the cell of the given column, if present.
func (r *Row) Get(id ColumnID) (Cell, bool) {
	for i := range r.Cells {
		if r.Cells[i].Column == id {
			return r.Cells[i].Cell, true
		}
	}
	return Cell{}, false
}
