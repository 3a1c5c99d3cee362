// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRowSetKeepsIDOrder(t *testing.T) {
	var r Row
	r.Set(2, MakeLiveCell(1, []byte("b")))
	r.Set(0, MakeLiveCell(1, []byte("a")))
	r.Set(1, MakeLiveCell(1, []byte("m")))
	require.Equal(t, []ColumnID{0, 1, 2}, []ColumnID{r.Cells[0].Column, r.Cells[1].Column, r.Cells[2].Column})

	r.Set(1, MakeLiveCell(9, []byte("n")))
	require.Len(t, r.Cells, 3)
	c, ok := r.Get(1)
	require.True(t, ok)
	require.Equal(t, int64(9), c.Timestamp)
	_, ok = r.Get(7)
	require.False(t, ok)
}

func TestTombstoneSupersedes(t *testing.T) {
	empty := Tombstone{}
	early := Tombstone{Timestamp: 10, DeletionTime: 100}
	late := Tombstone{Timestamp: 20, DeletionTime: 100}
	require.True(t, late.Supersedes(early))
	require.False(t, early.Supersedes(late))
	require.True(t, early.Supersedes(empty))
	require.False(t, empty.Supersedes(early))
	require.Equal(t, late, MaxTombstone(early, late))
	require.Equal(t, late, MaxTombstone(late, empty))
}

func TestFragmentAccessors(t *testing.T) {
	f := MakePartitionEnd()
	require.Equal(t, KindPartitionEnd, f.Kind())
	require.Panics(t, func() { f.ClusteringRow() })

	cr := MakeClusteringRow(&ClusteringRow{Key: ClusteringKey{0x00, 0x01, 0xcd}})
	require.Equal(t, KindClusteringRow, cr.Kind())
	require.Equal(t, Equal, cr.Position().Weight)
	require.Panics(t, func() { f.Position() })
}
