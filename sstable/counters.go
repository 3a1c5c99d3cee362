// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"bytes"
	"sort"

	"github.com/colstore/sstool/internal/base"
)

// MergeCounterCells is the store's counter reconciliation rule: shards
// merge by id, the higher logical clock wins per shard, and the cell keeps
// the later timestamp. The combiner plugs this in; the core never assumes a
// particular counter semantics.
func MergeCounterCells(a, b base.Cell) base.Cell {
	out := base.Cell{Kind: base.CellCounter, Live: true, Timestamp: a.Timestamp}
	if b.Timestamp > out.Timestamp {
		out.Timestamp = b.Timestamp
	}
	byID := make(map[[16]byte]base.CounterShard, len(a.Shards)+len(b.Shards))
	for _, shards := range [][]base.CounterShard{a.Shards, b.Shards} {
		for _, s := range shards {
			id := [16]byte(s.ID)
			if prev, ok := byID[id]; !ok || s.Clock > prev.Clock {
				byID[id] = s
			}
		}
	}
	out.Shards = make([]base.CounterShard, 0, len(byID))
	for _, s := range byID {
		out.Shards = append(out.Shards, s)
	}
	sort.Slice(out.Shards, func(i, j int) bool {
		return bytes.Compare(out.Shards[i].ID[:], out.Shards[j].ID[:]) < 0
	})
	return out
}
