// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package validate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(`
keyspace: ks
table: tbl
partition_key:
  - {name: pk, type: text}
clustering_key:
  - {name: ck, type: int}
regular_columns:
  - {name: v, type: text}
`))
	require.NoError(t, err)
	return s
}

// orderedKeys returns n partition keys in stream (token) order.
func orderedKeys(t *testing.T, s *schema.Schema, n int) []base.PartitionKey {
	t.Helper()
	keys := make([]base.PartitionKey, 0, 16)
	for i := 0; i < 16; i++ {
		k, err := s.MakePartitionKey(fmt.Sprintf("pk-%c", 'a'+i))
		require.NoError(t, err)
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return s.ComparePartitionKeys(keys[i], keys[j]) < 0 })
	return keys[:n]
}

type streamBuilder struct {
	t     *testing.T
	s     *schema.Schema
	frags []base.Fragment
}

func (b *streamBuilder) ps(key base.PartitionKey) *streamBuilder {
	b.frags = append(b.frags, base.MakePartitionStart(&base.PartitionStart{Key: key, Token: b.s.Token(key)}))
	return b
}

func (b *streamBuilder) row(ck int) *streamBuilder {
	key, err := b.s.MakeClusteringKey(strconv.Itoa(ck))
	require.NoError(b.t, err)
	b.frags = append(b.frags, base.MakeClusteringRow(&base.ClusteringRow{Key: key}))
	return b
}

func (b *streamBuilder) rtc(ck int, weight base.BoundWeight, tomb base.Tombstone) *streamBuilder {
	key, err := b.s.MakeClusteringKey(strconv.Itoa(ck))
	require.NoError(b.t, err)
	b.frags = append(b.frags, base.MakeRangeTombstoneChange(&base.RangeTombstoneChange{
		Position:  base.Position{Key: key, Weight: weight},
		Tombstone: tomb,
	}))
	return b
}

func (b *streamBuilder) pe() *streamBuilder {
	b.frags = append(b.frags, base.MakePartitionEnd())
	return b
}

type silentLogger struct{ errors []string }

func (l *silentLogger) Infof(format string, args ...interface{}) {}

func (l *silentLogger) Errorf(format string, args ...interface{}) {
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *silentLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// runValidator pushes the stream through the consumer protocol and returns
// the error count.
func runValidator(t *testing.T, s *schema.Schema, level Level, frags []base.Fragment) (uint64, *silentLogger) {
	t.Helper()
	ctx := context.Background()
	logger := &silentLogger{}
	v := NewValidator(s, level, logger)
	require.NoError(t, v.StartOfStream(ctx))
	cont, err := v.NewSSTable(ctx, "test.sst")
	require.NoError(t, err)
	require.Equal(t, base.Continue, cont)
	for i := range frags {
		cont, err := frags[i].Consume(ctx, v)
		require.NoError(t, err)
		if cont == base.Stop {
			// Mirror the driver: a mid-partition stop is followed by a
			// synthetic partition end.
			if frags[i].Kind() != base.KindPartitionEnd {
				_, err := v.ConsumePartitionEnd(ctx)
				require.NoError(t, err)
			}
			break
		}
	}
	_, err = v.EndOfSSTable(ctx)
	require.NoError(t, err)
	require.NoError(t, v.EndOfStream(ctx))
	return v.TotalErrors(), logger
}

// Each injected violation must be detected at its level and stay invisible
// at every strictly lower level.
func TestValidatorLevels(t *testing.T) {
	s := testSchema(t)
	keys := orderedKeys(t, s, 3)
	tomb := base.Tombstone{Timestamp: 100, DeletionTime: 1577836800}

	cases := []struct {
		name   string
		frags  func() []base.Fragment
		counts map[Level]uint64
	}{
		{
			name: "well-formed",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[0]).rtc(1, base.BeforeAll, tomb).row(1).rtc(2, base.AfterAll, base.Tombstone{}).pe()
				b.ps(keys[1]).row(1).row(2).pe()
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 0, Token: 0, PartitionKey: 0, ClusteringKey: 0},
		},
		{
			name: "out-of-order-partitions",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[1]).pe().ps(keys[0]).pe()
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 0, Token: 1, PartitionKey: 1, ClusteringKey: 1},
		},
		{
			name: "duplicate-partition",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[0]).pe().ps(keys[0]).pe()
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 0, Token: 0, PartitionKey: 1, ClusteringKey: 1},
		},
		{
			name: "out-of-order-rows",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[0]).row(2).row(1).pe()
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 0, Token: 0, PartitionKey: 0, ClusteringKey: 1},
		},
		{
			name: "duplicate-row",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[0]).row(1).row(1).pe()
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 0, PartitionKey: 0, ClusteringKey: 1},
		},
		{
			name: "unclosed-range-tombstone",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[0]).rtc(1, base.BeforeAll, tomb).pe()
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 0, PartitionKey: 0, ClusteringKey: 1},
		},
		{
			name: "equal-weight-rtc",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[0]).rtc(1, base.Equal, tomb).rtc(2, base.AfterAll, base.Tombstone{}).pe()
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 0, ClusteringKey: 1},
		},
		{
			name: "unclosed-partition",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[0]).row(1)
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 1, ClusteringKey: 1},
		},
		{
			name: "partition-start-inside-partition",
			frags: func() []base.Fragment {
				b := &streamBuilder{t: t, s: s}
				b.ps(keys[0]).ps(keys[1])
				return b.frags
			},
			counts: map[Level]uint64{PartitionRegion: 1, ClusteringKey: 1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for level, want := range tc.counts {
				got, _ := runValidator(t, s, level, tc.frags())
				require.Equal(t, want, got, "level %s", level)
			}
		})
	}
}

func TestUnclosedRangeTombstoneDiagnostic(t *testing.T) {
	s := testSchema(t)
	keys := orderedKeys(t, s, 1)
	b := &streamBuilder{t: t, s: s}
	b.ps(keys[0]).rtc(1, base.BeforeAll, base.Tombstone{Timestamp: 100, DeletionTime: 1577836800}).pe()
	got, logger := runValidator(t, s, ClusteringKey, b.frags)
	require.Equal(t, uint64(1), got)
	require.Len(t, logger.errors, 1)
	require.Contains(t, logger.errors[0], "unclosed range tombstone at partition end")
}

// RTCs keyed at an adjacent row's clustering key, just before and just after
// the row, are legal.
func TestRangeTombstoneEqualToRowPosition(t *testing.T) {
	s := testSchema(t)
	keys := orderedKeys(t, s, 1)
	tomb := base.Tombstone{Timestamp: 1, DeletionTime: 2}
	b := &streamBuilder{t: t, s: s}
	b.ps(keys[0]).
		rtc(1, base.BeforeAll, tomb).
		row(1).
		rtc(1, base.AfterAll, base.Tombstone{}).
		pe()
	got, _ := runValidator(t, s, ClusteringKey, b.frags)
	require.Zero(t, got)
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"partition_region": PartitionRegion,
		"token":            Token,
		"partition_key":    PartitionKey,
		"clustering_key":   ClusteringKey,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLevel("everything")
	require.Error(t, err)
}

func TestObserveGatesWritePath(t *testing.T) {
	s := testSchema(t)
	keys := orderedKeys(t, s, 2)
	ctx := context.Background()
	v := NewValidator(s, ClusteringKey, &silentLogger{})
	_, err := v.NewSSTable(ctx, "")
	require.NoError(t, err)

	b := &streamBuilder{t: t, s: s}
	b.ps(keys[1]).pe()
	for i := range b.frags {
		require.NoError(t, v.Observe(ctx, &b.frags[i]))
	}
	// An out-of-order second partition is fatal on the write path.
	b2 := &streamBuilder{t: t, s: s}
	b2.ps(keys[0])
	err = v.Observe(ctx, &b2.frags[0])
	require.ErrorContains(t, err, "invalid fragment stream")
}
