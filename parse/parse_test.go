// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package parse_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"

	"github.com/colstore/sstool/dump"
	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/internal/datatest"
	"github.com/colstore/sstool/parse"
	"github.com/colstore/sstool/schema"
)

// dumpArray renders a fragment stream as the parser's input format: the
// bare per-sstable array of partition objects.
func dumpArray(t *testing.T, s *schema.Schema, frags []base.Fragment) string {
	t.Helper()
	var buf bytes.Buffer
	c := dump.NewDataConsumer(s, &buf, dump.FormatJSON)
	datatest.RunConsumer(t, c, "test.sst", frags)
	doc := buf.String()
	const prefix = `{"sstables":{"test.sst":`
	const suffix = "}}\n"
	require.True(t, strings.HasPrefix(doc, prefix), "dump %q", doc)
	require.True(t, strings.HasSuffix(doc, suffix), "dump %q", doc)
	return doc[len(prefix) : len(doc)-len(suffix)]
}

func collect(t *testing.T, p *parse.Parser) []base.Fragment {
	t.Helper()
	ctx := context.Background()
	var out []base.Fragment
	for {
		f, ok, err := p.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

// Dump and parse must be a round-trip identity for the supported subset,
// both at the fragment level and byte-for-byte on a second dump.
func TestRoundTrip(t *testing.T) {
	s := datatest.Schema(t)
	streams := map[string]string{
		"empty-partition": `
ps a
pe
`,
		"single-live-row": `
ps a
row 1 v=hello ts=42
pe
`,
		"kitchen-sink": `
ps a ts=10 dt=1577836800
sr s1=sv ts=3
rtc - -1 ts=100 dt=1577836800
row 1 v=x ts=42 ttl=5 expiry=1577836800 marker=7 tomb=100/1577836800 shadow=200/1577836800
rtc 2 1
pe
ps b
row 1 dead=1577836800 ts=9
pe
`,
	}
	for name, input := range streams {
		t.Run(name, func(t *testing.T) {
			frags := datatest.ParseFragments(t, s, input)
			doc := dumpArray(t, s, frags)

			p := parse.NewParser(context.Background(), strings.NewReader(doc), s)
			defer p.Close()
			got := collect(t, p)
			require.Equal(t, frags, got, "diff: %s", strings.Join(prettyDiff(frags, got), "\n"))

			require.Equal(t, doc, dumpArray(t, s, got))
		})
	}
}

func prettyDiff(a, b interface{}) []string {
	return pretty.Diff(a, b)
}

// An empty partition in the input still yields a partition start with the
// empty tombstone before its end.
func TestEmptyPartitionEmitsStart(t *testing.T) {
	s := datatest.Schema(t)
	p := parse.NewParser(context.Background(), strings.NewReader(`[{"key":{"raw":"000161"}}]`), s)
	defer p.Close()
	got := collect(t, p)
	require.Len(t, got, 2)
	require.Equal(t, base.KindPartitionStart, got[0].Kind())
	require.True(t, got[0].PartitionStart().Tombstone.IsEmpty())
	require.Equal(t, s.Token(got[0].PartitionStart().Key), got[0].PartitionStart().Token)
	require.Equal(t, base.KindPartitionEnd, got[1].Kind())
}

// The date-formed fields accept raw epoch seconds too; TTLs accept the
// value with and without the unit suffix.
func TestLenientScalarForms(t *testing.T) {
	s := datatest.Schema(t)
	doc := `[{"key":{"raw":"000161"},"clustering_elements":[
		{"type":"clustering-row","key":{"raw":"000400000001"},"columns":{
			"v":{"is_live":true,"timestamp":1,"ttl":"5","expiry":1577836800,"value":"x"}}}]}]`
	p := parse.NewParser(context.Background(), strings.NewReader(doc), s)
	defer p.Close()
	got := collect(t, p)
	require.Len(t, got, 3)
	cell, ok := got[1].ClusteringRow().Cells.Get(0)
	require.True(t, ok)
	require.True(t, cell.HasTTL)
	require.Equal(t, int64(5), cell.TTL)
	require.Equal(t, int64(1577836800), cell.Expiry)
}

func TestStructuralErrors(t *testing.T) {
	s := datatest.Schema(t)
	cases := []struct {
		name  string
		doc   string
		errRe string
	}{
		{"root-not-array", `{"not":"array"}`, "unexpected json event StartObject in state start"},
		{"unknown-partition-key", `[{"bogus":1}]`, "unexpected json event Key(bogus)"},
		{"bad-hex-key", `[{"key":{"raw":"zz"}}]`, "failed to parse partition key"},
		{"extra-key-component", `[{"key":{"raw":"0001610001"}}]`, "failed to parse partition key"},
		{"bad-element-type", `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"bogus"}]}]`,
			"invalid clustering element type"},
		{"equal-bound-weight", `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"range-tombstone-change","weight":0,"tombstone":{"timestamp":1,"deletion_time":1}}]}]`,
			"equal is not a valid bound weight"},
		{"invalid-bound-weight", `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"range-tombstone-change","weight":5,"tombstone":{}}]}]`,
			"5 is not a valid bound weight value"},
		{"incomplete-tombstone", `[{"key":{"raw":"000161"},"tombstone":{"timestamp":1}}]`,
			"incomplete tombstone"},
		{"unknown-column", `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"clustering-row","key":{"raw":"000400000001"},"columns":{"nope":{"is_live":true,"timestamp":1,"value":"x"}}}]}]`,
			"failed to look up regular column nope"},
		{"static-column-in-row", `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"clustering-row","key":{"raw":"000400000001"},"columns":{"s1":{"is_live":true,"timestamp":1,"value":"x"}}}]}]`,
			"failed to look up regular column s1"},
		{"live-cell-without-value", `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"clustering-row","key":{"raw":"000400000001"},"columns":{"v":{"is_live":true,"timestamp":1}}}]}]`,
			"live cell doesn't have data"},
		{"ttl-without-expiry", `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"clustering-row","key":{"raw":"000400000001"},"columns":{"v":{"is_live":true,"timestamp":1,"ttl":"5s","value":"x"}}}]}]`,
			"ttl and expiry must either be both present or both missing"},
		{"missing-clustering-key", `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"clustering-row","columns":{"v":{"is_live":true,"timestamp":1,"value":"x"}}}]}]`,
			"missing clustering key"},
		{"truncated-input", `[{"key":{"raw":"000161"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := parse.NewParser(context.Background(), strings.NewReader(tc.doc), s)
			defer p.Close()
			var err error
			for {
				var ok bool
				_, ok, err = p.Next(context.Background())
				if err != nil || !ok {
					break
				}
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), "parsing input failed")
			if tc.errRe != "" {
				require.Contains(t, err.Error(), tc.errRe)
			}
		})
	}
}

// Counter columns are rejected on the write path.
func TestCounterColumnsRejected(t *testing.T) {
	s, err := schema.Parse([]byte(`
keyspace: ks
table: counters
partition_key:
  - {name: pk, type: text}
regular_columns:
  - {name: c, type: counter}
`))
	require.NoError(t, err)
	doc := `[{"key":{"raw":"000161"},"clustering_elements":[{"type":"clustering-row","key":{"raw":""},"columns":{"c":{"is_live":true,"timestamp":1,"value":"1"}}}]}]`
	p := parse.NewParser(context.Background(), strings.NewReader(doc), s)
	defer p.Close()
	for {
		var ok bool
		_, ok, err = p.Next(context.Background())
		if err != nil || !ok {
			break
		}
	}
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-atomic columns are not supported")
}

// Structural errors carry the line and column of the offending token.
func TestErrorLocality(t *testing.T) {
	s := datatest.Schema(t)
	doc := "[\n  {\"key\": {\"raw\": \"000161\"},\n   \"bogus\": 1}\n]\n"
	p := parse.NewParser(context.Background(), strings.NewReader(doc), s)
	defer p.Close()
	var err error
	for {
		var ok bool
		_, ok, err = p.Next(context.Background())
		if err != nil || !ok {
			break
		}
	}
	require.Error(t, err)
	// The offending key sits on line 3; the reported column points just
	// past its token.
	line3 := "   \"bogus\": 1}"
	col := strings.Index(line3, `"bogus"`) + len(`"bogus"`)
	require.Contains(t, err.Error(), fmt.Sprintf("at line 3, column %d", col))
	require.Contains(t, err.Error(), "unexpected json event Key(bogus)")
}

// Close releases the parsing goroutine even when the stream is abandoned
// mid-partition.
func TestCloseMidStream(t *testing.T) {
	s := datatest.Schema(t)
	var sb strings.Builder
	sb.WriteString(`[`)
	for i := 0; i < 100; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"key":{"raw":"000161"}}`)
	}
	sb.WriteString(`]`)
	p := parse.NewParser(context.Background(), strings.NewReader(sb.String()), s)
	f, ok, err := p.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base.KindPartitionStart, f.Kind())
	require.NoError(t, p.Close())
}
