// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

func combineStreams(t *testing.T, s *schema.Schema, inputs ...string) []base.Fragment {
	t.Helper()
	readers := make([]Reader, 0, len(inputs))
	for _, in := range inputs {
		readers = append(readers, newSliceReader(parseFragments(t, s, in)))
	}
	cr := Combine(s, readers, nil)
	defer cr.Close()
	var out []base.Fragment
	ctx := context.Background()
	for {
		f, ok, err := cr.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func describe(t *testing.T, s *schema.Schema, frags []base.Fragment) []string {
	t.Helper()
	var out []string
	c := &recordingConsumer{s: s}
	ctx := context.Background()
	for i := range frags {
		_, err := frags[i].Consume(ctx, c)
		require.NoError(t, err)
	}
	out = append(out, c.calls...)
	return out
}

func TestCombineDisjointPartitionsAreSortedUnion(t *testing.T) {
	s := testSchema(t)
	got := combineStreams(t, s,
		"ps a\nrow 1 v=x\npe\n",
		"ps b\nrow 1 v=y\npe\n",
		"ps c\nrow 1 v=z\npe\n")

	var starts []base.Token
	for i := range got {
		if got[i].Kind() == base.KindPartitionStart {
			starts = append(starts, got[i].PartitionStart().Token)
		}
	}
	require.Len(t, starts, 3)
	require.True(t, starts[0] < starts[1] && starts[1] < starts[2])
}

func TestCombineMergesSharedPartitionOnce(t *testing.T) {
	s := testSchema(t)
	got := combineStreams(t, s,
		"ps a\nrow 1 v=x ts=10\npe\n",
		"ps a\nrow 2 v=y ts=10\npe\n")
	require.Equal(t, []string{
		"partition-start (a)",
		"clustering-row (1)",
		"clustering-row (2)",
		"partition-end",
	}, describe(t, s, got))
}

// Equal clustering positions collapse into one row under last-write-wins.
func TestCombineTimestampTiebreak(t *testing.T) {
	s := testSchema(t)
	got := combineStreams(t, s,
		"ps a\nrow 1 v=old ts=10\npe\n",
		"ps a\nrow 1 v=new ts=20\npe\n")
	require.Equal(t, []string{
		"partition-start (a)",
		"clustering-row (1)",
		"partition-end",
	}, describe(t, s, got))

	var row *base.ClusteringRow
	for i := range got {
		if got[i].Kind() == base.KindClusteringRow {
			row = got[i].ClusteringRow()
		}
	}
	require.NotNil(t, row)
	col, ok := s.RegularColumn("v")
	require.True(t, ok)
	cell, ok := row.Cells.Get(col.ID)
	require.True(t, ok)
	require.Equal(t, int64(20), cell.Timestamp)
	require.Equal(t, "new", string(cell.Value))
}

func TestCombinePartitionTombstones(t *testing.T) {
	s := testSchema(t)
	got := combineStreams(t, s,
		"ps a ts=5 dt=50\npe\n",
		"ps a ts=9 dt=90\npe\n")
	require.Len(t, got, 2)
	require.Equal(t, base.Tombstone{Timestamp: 9, DeletionTime: 90}, got[0].PartitionStart().Tombstone)
}

func TestCombineStaticRows(t *testing.T) {
	s := testSchema(t)
	got := combineStreams(t, s,
		"ps a\nsr s1=one ts=10\npe\n",
		"ps a\nsr s1=two ts=20\npe\n")
	require.Equal(t, []string{
		"partition-start (a)",
		"static-row",
		"partition-end",
	}, describe(t, s, got))
	sr := got[1].StaticRow()
	cell, ok := sr.Cells.Get(0)
	require.True(t, ok)
	require.Equal(t, "two", string(cell.Value))
}

// Range tombstones from two inputs compose into one monotone sequence
// covering the union of their active ranges.
func TestCombineRangeTombstones(t *testing.T) {
	s := testSchema(t)
	got := combineStreams(t, s,
		"ps a\nrtc 1 -1 ts=10 dt=1\nrtc 3 1\npe\n",
		"ps a\nrtc 2 -1 ts=20 dt=2\nrtc 4 1\npe\n")
	// The second input's stronger tombstone takes over at position 2 and
	// stays in effect past the first input's close at 3, so that close is
	// elided from the merged sequence.
	require.Equal(t, []string{
		"partition-start (a)",
		"range-tombstone-change (1) before-all",
		"range-tombstone-change (2) before-all",
		"range-tombstone-change (4) after-all",
		"partition-end",
	}, describe(t, s, got))

	var tombs []base.Tombstone
	for i := range got {
		if got[i].Kind() == base.KindRangeTombstoneChange {
			tombs = append(tombs, got[i].RangeTombstoneChange().Tombstone)
		}
	}
	require.Equal(t, []base.Tombstone{
		{Timestamp: 10, DeletionTime: 1},
		{Timestamp: 20, DeletionTime: 2},
		{},
	}, tombs)
}

// A change that does not move the aggregate tombstone is elided.
func TestCombineRangeTombstoneElision(t *testing.T) {
	s := testSchema(t)
	got := combineStreams(t, s,
		"ps a\nrtc 1 -1 ts=30 dt=3\nrtc 4 1\npe\n",
		"ps a\nrtc 2 -1 ts=10 dt=1\nrtc 3 1\npe\n")
	require.Equal(t, []string{
		"partition-start (a)",
		"range-tombstone-change (1) before-all",
		"range-tombstone-change (4) after-all",
		"partition-end",
	}, describe(t, s, got))
}
