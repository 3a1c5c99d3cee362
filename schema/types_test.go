// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package schema

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// The dump/parse round trip relies on Parse(Format(v)) == v for every
// valid value of every type.
func TestTypeRoundTrip(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	roundTrips := func(t *testing.T, name, literal string) bool {
		t.Helper()
		ty, err := TypeByName(name)
		require.NoError(t, err)
		v, err := ty.Parse(literal)
		if err != nil {
			return false
		}
		back, err := ty.Parse(ty.Format(v))
		return err == nil && string(back) == string(v)
	}

	properties.Property("text", prop.ForAll(
		func(s string) bool { return roundTrips(t, "text", s) },
		gen.AnyString()))
	properties.Property("int", prop.ForAll(
		func(n int32) bool { return roundTrips(t, "int", strconv.FormatInt(int64(n), 10)) },
		gen.Int32()))
	properties.Property("bigint", prop.ForAll(
		func(n int64) bool { return roundTrips(t, "bigint", strconv.FormatInt(n, 10)) },
		gen.Int64()))
	properties.Property("timestamp", prop.ForAll(
		func(n int64) bool { return roundTrips(t, "timestamp", strconv.FormatInt(n, 10)) },
		gen.Int64()))
	properties.Property("double", prop.ForAll(
		func(f float64) bool { return roundTrips(t, "double", strconv.FormatFloat(f, 'g', -1, 64)) },
		gen.Float64()))
	properties.Property("blob", prop.ForAll(
		func(b []byte) bool {
			ty, err := TypeByName("blob")
			require.NoError(t, err)
			v, err := ty.Parse(ty.Format(b))
			return err == nil && string(v) == string(b)
		},
		gen.SliceOf(gen.UInt8())))

	properties.TestingRun(t)
}

func mustParse(t *testing.T, ty Type, s string) []byte {
	t.Helper()
	v, err := ty.Parse(s)
	require.NoError(t, err)
	return v
}

func TestTypeCompare(t *testing.T) {
	intTy, err := TypeByName("int")
	require.NoError(t, err)
	a := mustParse(t, intTy, "-5")
	b := mustParse(t, intTy, "3")
	require.Negative(t, intTy.Compare(a, b))
	require.Positive(t, intTy.Compare(b, a))
	require.Zero(t, intTy.Compare(a, a))

	boolTy, err := TypeByName("boolean")
	require.NoError(t, err)
	require.Negative(t, boolTy.Compare(mustParse(t, boolTy, "false"), mustParse(t, boolTy, "true")))

	dblTy, err := TypeByName("double")
	require.NoError(t, err)
	require.Equal(t, "NaN", dblTy.Format(mustParse(t, dblTy, "NaN")))
	require.Negative(t, dblTy.Compare(mustParse(t, dblTy, "1.5"), mustParse(t, dblTy, "2.5")))

	uuidTy, err := TypeByName("uuid")
	require.NoError(t, err)
	u := mustParse(t, uuidTy, "00112233-4455-6677-8899-aabbccddeeff")
	require.Len(t, u, 16)
	require.Equal(t, "00112233-4455-6677-8899-aabbccddeeff", uuidTy.Format(u))

	_, err = TypeByName("frozen<map>")
	require.Error(t, err)
}

func TestTypeParseErrors(t *testing.T) {
	for _, tc := range []struct {
		typeName string
		literal  string
	}{
		{"int", "not-a-number"},
		{"int", "99999999999999"},
		{"bigint", "12.5"},
		{"boolean", "yes"},
		{"blob", "0x"},
		{"uuid", "short"},
		{"ascii", "caf\xc3\xa9"},
	} {
		ty, err := TypeByName(tc.typeName)
		require.NoError(t, err)
		_, err = ty.Parse(tc.literal)
		require.Error(t, err, "%s %q", tc.typeName, tc.literal)
	}
}
