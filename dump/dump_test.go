// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package dump_test

import (
	"bytes"
	"math"
	"regexp"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"

	"github.com/colstore/sstool/dump"
	"github.com/colstore/sstool/internal/datatest"
)

// Tokens are murmur3 hashes; scrub them so the expected output stays
// readable and stable across partitioner details.
var tokenRE = regexp.MustCompile(`"token":"-?[0-9]+"|token -?[0-9]+`)

func scrubTokens(s string) string {
	return tokenRE.ReplaceAllStringFunc(s, func(m string) string {
		if m[0] == '"' {
			return `"token":"<token>"`
		}
		return "token <token>"
	})
}

func TestDumpData(t *testing.T) {
	s := datatest.Schema(t)
	datadriven.RunTest(t, "testdata/dump_data", func(t *testing.T, td *datadriven.TestData) string {
		var format dump.OutputFormat
		switch td.Cmd {
		case "dump":
			format = dump.FormatJSON
		case "text":
			format = dump.FormatText
		default:
			t.Fatalf("unknown command %q", td.Cmd)
		}
		frags := datatest.ParseFragments(t, s, td.Input)
		var buf bytes.Buffer
		c := dump.NewDataConsumer(s, &buf, format)
		datatest.RunConsumer(t, c, "test.sst", frags)
		return scrubTokens(buf.String())
	})
}

func TestWriterScopeDiscipline(t *testing.T) {
	var buf bytes.Buffer
	w := dump.NewWriter(&buf)
	w.StartObject()
	require.Panics(t, func() { w.String("value without a key") })

	w2 := dump.NewWriter(&buf)
	w2.StartArray()
	require.Panics(t, func() { w2.EndObject() })

	w3 := dump.NewWriter(&buf)
	w3.StartObject()
	w3.Key("k")
	require.Panics(t, func() { w3.Key("k2") })
}

func TestWriterRendering(t *testing.T) {
	var buf bytes.Buffer
	w := dump.NewWriter(&buf)
	w.StartObject()
	w.Key("nan")
	w.Double(1.0)
	w.Key("really_nan")
	w.Double(math.NaN())
	w.Key("esc")
	w.String("a\"b\n")
	w.Key("arr")
	w.StartArray()
	w.Int64(-1)
	w.Uint64(18446744073709551615)
	w.Null()
	w.Bool(true)
	w.EndArray()
	w.EndObject()
	require.NoError(t, w.Flush())
	require.Equal(t, `{"nan":1,"really_nan":"NaN","esc":"a\"b\n","arr":[-1,18446744073709551615,null,true]}`, buf.String())
}

func TestDateForms(t *testing.T) {
	require.Equal(t, "2020-01-01 00:00:00", dump.DateString(1577836800))
	require.Equal(t, "1970-01-01 00:00:00", dump.DateString(0))
	require.Equal(t, "300s", dump.TTLString(300))
}
