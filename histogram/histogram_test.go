// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package histogram

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/sstool/internal/datatest"
)

func TestBucketWidths(t *testing.T) {
	for name, want := range map[string]Bucket{
		"hours": Hours, "days": Days, "weeks": Weeks, "months": Months, "years": Years,
	} {
		got, err := ParseBucket(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseBucket("fortnights")
	require.Error(t, err)

	require.Equal(t, int64(3600)*1000*1000, Hours.micros())
	require.Equal(t, 24*Hours.micros(), Days.micros())
	require.Equal(t, 7*Days.micros(), Weeks.micros())
}

func collectorOutput(t *testing.T, dir, input string) map[string][]int64 {
	t.Helper()
	s := datatest.Schema(t)
	c := NewCollector(Hours, nil)
	c.OutputDir = dir
	datatest.RunConsumer(t, c, "test.sst", datatest.ParseFragments(t, s, input))
	buf, err := os.ReadFile(filepath.Join(dir, "histogram.json"))
	require.NoError(t, err)
	var out map[string][]int64
	require.NoError(t, json.Unmarshal(buf, &out))
	return out
}

func TestCollector(t *testing.T) {
	dir := t.TempDir()
	const hour = int64(3600) * 1000 * 1000
	// Timestamps land in two hour buckets: three in the first, one in the
	// second. Every timestamp-bearing object contributes: the partition
	// tombstone, the row marker, the cell, and the range tombstone.
	input := `
ps a ts=1000 dt=1
row 1 v=x ts=2000 marker=3000
rtc 2 -1 ts=` + strconv.FormatInt(hour+5, 10) + ` dt=1
rtc 3 1
pe
`
	out := collectorOutput(t, dir, input)
	require.Equal(t, []int64{0, hour}, out["buckets"])
	require.Equal(t, []int64{3, 1}, out["counts"])
}

// Running the operation twice over the same input yields identical output.
func TestHistogramIdempotence(t *testing.T) {
	dir := t.TempDir()
	input := "ps a ts=7 dt=1\nrow 1 v=x ts=9\npe\n"
	collectorOutput(t, dir, input)
	first, err := os.ReadFile(filepath.Join(dir, "histogram.json"))
	require.NoError(t, err)
	collectorOutput(t, dir, input)
	second, err := os.ReadFile(filepath.Join(dir, "histogram.json"))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEmptyHistogramWritesNothing(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(Months, nil)
	c.OutputDir = dir
	datatest.RunConsumer(t, c, "test.sst", nil)
	_, err := os.Stat(filepath.Join(dir, "histogram.json"))
	require.True(t, os.IsNotExist(err))
}

func TestGraphRendering(t *testing.T) {
	dir := t.TempDir()
	s := datatest.Schema(t)
	c := NewCollector(Hours, nil)
	c.OutputDir = dir
	var graph bytes.Buffer
	c.Graph = &graph
	datatest.RunConsumer(t, c, "test.sst", datatest.ParseFragments(t, s, "ps a ts=7 dt=1\npe\n"))
	require.Contains(t, graph.String(), "writetime histogram")
}
