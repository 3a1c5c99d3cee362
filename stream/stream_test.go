// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/sstool/internal/base"
)

const twoPartitionStream = `
ps a
sr s1=sv
row 1 v=x
row 2 v=y
pe
ps b
row 1 v=z
pe
`

func runDriver(t *testing.T, frags []base.Fragment, opts Options, stopOn map[int]bool) (*recordingConsumer, *sliceReader) {
	t.Helper()
	s := testSchema(t)
	rd := newSliceReader(frags)
	c := &recordingConsumer{s: s, stopOn: stopOn}
	require.NoError(t, ConsumeStream(context.Background(), []Source{{Path: "sst1", Reader: rd}}, c, opts))
	require.True(t, rd.closed)
	return c, rd
}

func TestDriverFullStream(t *testing.T) {
	s := testSchema(t)
	frags := parseFragments(t, s, twoPartitionStream)
	c, rd := runDriver(t, frags, Options{}, nil)
	require.Equal(t, []string{
		"start-of-stream",
		"new-sstable sst1",
		"partition-start (a)",
		"static-row",
		"clustering-row (1)",
		"clustering-row (2)",
		"partition-end",
		"partition-start (b)",
		"clustering-row (1)",
		"partition-end",
		"end-of-sstable",
		"end-of-stream",
	}, c.calls)
	require.Zero(t, rd.skips)
}

func TestDriverSkipSSTable(t *testing.T) {
	s := testSchema(t)
	frags := parseFragments(t, s, twoPartitionStream)
	// Stop from NewSSTable skips straight to EndOfSSTable.
	c, _ := runDriver(t, frags, Options{}, map[int]bool{2: true})
	require.Equal(t, []string{
		"start-of-stream",
		"new-sstable sst1 -> stop",
		"end-of-sstable",
		"end-of-stream",
	}, c.calls)
}

func TestDriverMidPartitionStop(t *testing.T) {
	s := testSchema(t)
	frags := parseFragments(t, s, twoPartitionStream)
	// Stop on the first clustering row: the driver delivers a synthetic
	// partition end and skips to the next partition.
	c, rd := runDriver(t, frags, Options{}, map[int]bool{5: true})
	require.Equal(t, []string{
		"start-of-stream",
		"new-sstable sst1",
		"partition-start (a)",
		"static-row",
		"clustering-row (1) -> stop",
		"partition-end",
		"partition-start (b)",
		"clustering-row (1)",
		"partition-end",
		"end-of-sstable",
		"end-of-stream",
	}, c.calls)
	require.Equal(t, 1, rd.skips)
}

func TestDriverStopAfterPartitionEnd(t *testing.T) {
	s := testSchema(t)
	frags := parseFragments(t, s, twoPartitionStream)
	// Stop on a real partition end skips the rest of the sstable.
	c, _ := runDriver(t, frags, Options{}, map[int]bool{7: true})
	require.Equal(t, []string{
		"start-of-stream",
		"new-sstable sst1",
		"partition-start (a)",
		"static-row",
		"clustering-row (1)",
		"clustering-row (2)",
		"partition-end -> stop",
		"end-of-sstable",
		"end-of-stream",
	}, c.calls)
}

func TestDriverFilter(t *testing.T) {
	s := testSchema(t)
	frags := parseFragments(t, s, twoPartitionStream)
	keyB, err := s.MakePartitionKey("b")
	require.NoError(t, err)
	filter := NewPartitionFilter([]base.PartitionKey{keyB})

	// Filtered-out partitions never reach the consumer, in both skip
	// modes, with identical call sequences.
	for _, noSkips := range []bool{false, true} {
		c, _ := runDriver(t, frags, Options{Filter: filter, NoSkips: noSkips}, nil)
		require.Equal(t, []string{
			"start-of-stream",
			"new-sstable sst1",
			"partition-start (b)",
			"clustering-row (1)",
			"partition-end",
			"end-of-sstable",
			"end-of-stream",
		}, c.calls, "noSkips=%t", noSkips)
	}
}

func TestDriverNoSkipsMatchesBrokenNativeSkip(t *testing.T) {
	s := testSchema(t)
	keyA, err := s.MakePartitionKey("a")
	require.NoError(t, err)
	filter := NewPartitionFilter([]base.PartitionKey{keyA})

	// For a reader whose native skip is a no-op, --no-skips and the
	// default must produce identical consumer call sequences.
	var got [][]string
	for _, noSkips := range []bool{false, true} {
		rd := newSliceReader(parseFragments(t, s, twoPartitionStream))
		rd.brokenSkip = !noSkips
		c := &recordingConsumer{s: s}
		require.NoError(t, ConsumeStream(context.Background(), []Source{{Path: "sst1", Reader: rd}}, c, Options{Filter: filter, NoSkips: noSkips}))
		got = append(got, c.calls)
	}
	require.Equal(t, got[0], got[1])
}

func TestDriverStopAtEndOfSSTableStopsRun(t *testing.T) {
	s := testSchema(t)
	frags := parseFragments(t, s, "ps a\npe\n")
	rd1 := newSliceReader(frags)
	rd2 := newSliceReader(parseFragments(t, s, "ps b\npe\n"))
	c := &recordingConsumer{s: s, stopOn: map[int]bool{5: true}} // end-of-sstable of sst1
	require.NoError(t, ConsumeStream(context.Background(), []Source{
		{Path: "sst1", Reader: rd1},
		{Path: "sst2", Reader: rd2},
	}, c, Options{}))
	require.Equal(t, []string{
		"start-of-stream",
		"new-sstable sst1",
		"partition-start (a)",
		"partition-end",
		"end-of-sstable -> stop",
		"end-of-stream",
	}, c.calls)
	require.True(t, rd2.closed)
}
