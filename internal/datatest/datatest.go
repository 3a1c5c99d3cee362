// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package datatest provides the fragment-stream test helpers shared by the
// stream, dump and parse tests: a tiny line DSL for building streams and a
// harness that drives a consumer through the full stream protocol.
package datatest

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// Schema returns the schema the fragment DSL is written against: a text
// partition key, an int clustering key, one static and one regular text
// column.
func Schema(t testing.TB) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(`
keyspace: ks
table: tbl
partition_key:
  - {name: pk, type: text}
clustering_key:
  - {name: ck, type: int}
static_columns:
  - {name: s1, type: text}
regular_columns:
  - {name: v, type: text}
`))
	require.NoError(t, err)
	return s
}

// ParseFragments turns the line DSL into a fragment stream:
//
//	ps <pk> [ts=N dt=N]            partition start
//	sr s1=<val> [ts=N]             static row
//	row <ck> [v=<val>] [ts=N] [ttl=N expiry=N] [dead=N] [marker=N]
//	    [tomb=N/N] [shadow=N/N]
//	rtc <ck|-> <-1|1> [ts=N dt=N]  range tombstone change ("-" = no key)
//	pe                             partition end
func ParseFragments(t testing.TB, s *schema.Schema, input string) []base.Fragment {
	t.Helper()
	var frags []base.Fragment
	for _, line := range strings.Split(strings.TrimSpace(input), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		args := map[string]string{}
		for _, f := range fields[1:] {
			if k, v, ok := strings.Cut(f, "="); ok {
				args[k] = v
			}
		}
		switch fields[0] {
		case "ps":
			key, err := s.MakePartitionKey(fields[1])
			require.NoError(t, err)
			frags = append(frags, base.MakePartitionStart(&base.PartitionStart{
				Key:       key,
				Token:     s.Token(key),
				Tombstone: argTombstone(t, args),
			}))
		case "sr":
			var row base.Row
			col, ok := s.StaticColumn("s1")
			require.True(t, ok)
			row.Set(col.ID, base.MakeLiveCell(argInt(t, args, "ts", 1), []byte(args["s1"])))
			frags = append(frags, base.MakeStaticRow(&base.StaticRow{Cells: row}))
		case "row":
			ck, err := s.MakeClusteringKey(fields[1])
			require.NoError(t, err)
			cr := &base.ClusteringRow{Key: ck}
			col, ok := s.RegularColumn("v")
			require.True(t, ok)
			if v, haveV := args["v"]; haveV {
				ts := argInt(t, args, "ts", 1)
				if _, expiring := args["ttl"]; expiring {
					cr.Cells.Set(col.ID, base.MakeExpiringCell(ts, []byte(v), argInt(t, args, "ttl", 0), argInt(t, args, "expiry", 0)))
				} else {
					cr.Cells.Set(col.ID, base.MakeLiveCell(ts, []byte(v)))
				}
			} else if dt, dead := args["dead"]; dead {
				dtn, err := strconv.ParseInt(dt, 10, 64)
				require.NoError(t, err)
				cr.Cells.Set(col.ID, base.MakeDeadCell(argInt(t, args, "ts", 1), dtn))
			}
			if m, ok := args["marker"]; ok {
				ts, err := strconv.ParseInt(m, 10, 64)
				require.NoError(t, err)
				cr.Marker = &base.RowMarker{Timestamp: ts}
			}
			if tomb, ok := args["tomb"]; ok {
				cr.Tombstone = splitTombstone(t, tomb)
			}
			if tomb, ok := args["shadow"]; ok {
				cr.Shadowable = splitTombstone(t, tomb)
			}
			frags = append(frags, base.MakeClusteringRow(cr))
		case "rtc":
			rtc := &base.RangeTombstoneChange{}
			if fields[1] != "-" {
				ck, err := s.MakeClusteringKey(fields[1])
				require.NoError(t, err)
				rtc.Position.Key = ck
			}
			w, err := strconv.ParseInt(fields[2], 10, 8)
			require.NoError(t, err)
			rtc.Position.Weight = base.BoundWeight(w)
			rtc.Tombstone = argTombstone(t, args)
			frags = append(frags, base.MakeRangeTombstoneChange(rtc))
		case "pe":
			frags = append(frags, base.MakePartitionEnd())
		default:
			t.Fatalf("unknown fragment line %q", line)
		}
	}
	return frags
}

func argInt(t testing.TB, args map[string]string, key string, def int64) int64 {
	t.Helper()
	if v, ok := args[key]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		require.NoError(t, err)
		return n
	}
	return def
}

func argTombstone(t testing.TB, args map[string]string) base.Tombstone {
	t.Helper()
	if _, ok := args["ts"]; !ok {
		return base.Tombstone{}
	}
	return base.Tombstone{Timestamp: argInt(t, args, "ts", 0), DeletionTime: argInt(t, args, "dt", 0)}
}

func splitTombstone(t testing.TB, v string) base.Tombstone {
	t.Helper()
	ts, dt, ok := strings.Cut(v, "/")
	require.True(t, ok, "tombstone %q, want ts/dt", v)
	tsn, err := strconv.ParseInt(ts, 10, 64)
	require.NoError(t, err)
	dtn, err := strconv.ParseInt(dt, 10, 64)
	require.NoError(t, err)
	return base.Tombstone{Timestamp: tsn, DeletionTime: dtn}
}

// RunConsumer drives one sstable's fragments through the full consumer
// protocol. On Stop it delivers a synthetic partition end (unless the
// stopping fragment was a partition end) and then ends the sstable; it does
// not resume at the next partition the way the driver does.
func RunConsumer(t testing.TB, c base.Consumer, path string, frags []base.Fragment) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.StartOfStream(ctx))
	cont, err := c.NewSSTable(ctx, path)
	require.NoError(t, err)
	if cont == base.Continue {
		for i := range frags {
			cont, err := frags[i].Consume(ctx, c)
			require.NoError(t, err)
			if cont == base.Stop {
				if frags[i].Kind() != base.KindPartitionEnd {
					_, err := c.ConsumePartitionEnd(ctx)
					require.NoError(t, err)
				}
				break
			}
		}
	}
	_, err = c.EndOfSSTable(ctx)
	require.NoError(t, err)
	require.NoError(t, c.EndOfStream(ctx))
}
