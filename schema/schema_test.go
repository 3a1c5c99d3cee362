// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/sstool/internal/base"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := Parse([]byte(`
keyspace: ks
table: tbl
partition_key:
  - {name: pk, type: text}
clustering_key:
  - {name: ck1, type: int}
  - {name: ck2, type: text, order: desc}
static_columns:
  - {name: s1, type: text}
regular_columns:
  - {name: v1, type: text}
  - {name: v2, type: bigint}
`))
	require.NoError(t, err)
	return s
}

func TestSchemaParse(t *testing.T) {
	s := testSchema(t)
	require.Equal(t, "ks.tbl", s.Name())
	require.Len(t, s.PartitionKeyColumns(), 1)
	require.Len(t, s.ClusteringColumns(), 2)
	require.True(t, s.ClusteringColumns()[1].Reversed)

	col, ok := s.RegularColumn("v2")
	require.True(t, ok)
	require.Equal(t, base.ColumnID(1), col.ID)
	_, ok = s.RegularColumn("s1")
	require.False(t, ok)
	_, ok = s.StaticColumn("s1")
	require.True(t, ok)
}

func TestSchemaParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{keyspace: ks, table: t, partition_key: [{name: pk, type: frob}]}`))
	require.ErrorContains(t, err, "unknown type")
	_, err = Parse([]byte(`{keyspace: ks, table: t}`))
	require.ErrorContains(t, err, "no partition key")
	_, err = Parse([]byte(`{keyspace: ks, table: t, partition_key: [{name: pk, type: text, order: desc}]}`))
	require.ErrorContains(t, err, "only clustering columns")
	_, err = Parse([]byte(`{keyspace: ks, table: t, partition_key: [{name: pk, type: text}], regular_columns: [{name: pk, type: int}]}`))
	require.ErrorContains(t, err, "duplicate column")
}

func TestPartitionOrdering(t *testing.T) {
	s := testSchema(t)
	a, err := s.MakePartitionKey("alpha")
	require.NoError(t, err)
	b, err := s.MakePartitionKey("beta")
	require.NoError(t, err)
	// Partitions order by token first; equal keys are equal.
	require.Zero(t, s.ComparePartitionKeys(a, a))
	ca := s.ComparePartitionKeys(a, b)
	require.Equal(t, -ca, s.ComparePartitionKeys(b, a))
	require.Equal(t, s.Token(a) < s.Token(b), ca < 0)
}

func TestClusteringOrdering(t *testing.T) {
	s := testSchema(t)
	mk := func(vals ...string) base.ClusteringKey {
		k, err := s.MakeClusteringKey(vals...)
		require.NoError(t, err)
		return k
	}
	cmp := func(a, b base.ClusteringKey) int {
		c, err := s.CompareClusteringKeys(a, b)
		require.NoError(t, err)
		return c
	}
	require.Negative(t, cmp(mk("1", "x"), mk("2", "x")))
	// The second component is descending.
	require.Positive(t, cmp(mk("1", "a"), mk("1", "b")))
	// A strict prefix compares equal to its extensions.
	require.Zero(t, cmp(mk("1"), mk("1", "z")))
}

func TestPositionOrdering(t *testing.T) {
	s := testSchema(t)
	k1, err := s.MakeClusteringKey("1", "x")
	require.NoError(t, err)
	prefix, err := s.MakeClusteringKey("1")
	require.NoError(t, err)

	cmp := func(a, b base.Position) int {
		c, err := s.ComparePositions(a, b)
		require.NoError(t, err)
		return c
	}
	row := base.RowPosition(k1)
	before := base.Position{Key: k1, Weight: base.BeforeAll}
	after := base.Position{Key: k1, Weight: base.AfterAll}
	require.Negative(t, cmp(before, row))
	require.Negative(t, cmp(row, after))
	// A before-all bound on a prefix precedes every extension; an
	// after-all bound follows them.
	require.Negative(t, cmp(base.Position{Key: prefix, Weight: base.BeforeAll}, row))
	require.Positive(t, cmp(base.Position{Key: prefix, Weight: base.AfterAll}, row))
}

func TestRegistry(t *testing.T) {
	s, err := Lookup("system.local")
	require.NoError(t, err)
	require.Equal(t, "system.local", s.Name())
	_, err = Lookup("nope.nope")
	require.Error(t, err)
	require.NotEmpty(t, RegisteredNames())
}

func TestTokenStability(t *testing.T) {
	s := testSchema(t)
	k, err := s.MakePartitionKey("stable")
	require.NoError(t, err)
	require.Equal(t, s.Token(k), s.Token(k))
	k2, err := s.MakePartitionKey("stable2")
	require.NoError(t, err)
	require.NotEqual(t, s.Token(k), s.Token(k2))
}
