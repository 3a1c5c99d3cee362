// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package schema models the logical table schema the tool interprets
// sstables against: column names, types and kinds, key layout, and the
// orderings derived from them.
package schema

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"

	"github.com/colstore/sstool/internal/base"
)

// ColumnKind places a column within the table layout.
type ColumnKind uint8

const (
	PartitionKeyColumn ColumnKind = iota
	ClusteringKeyColumn
	StaticColumn
	RegularColumn
)

func (k ColumnKind) String() string {
	switch k {
	case PartitionKeyColumn:
		return "partition_key"
	case ClusteringKeyColumn:
		return "clustering_key"
	case StaticColumn:
		return "static"
	case RegularColumn:
		return "regular"
	}
	return fmt.Sprintf("ColumnKind(%d)", uint8(k))
}

// Column is one column definition. ID is dense per kind, in declaration
// order. Reversed applies to clustering columns only.
type Column struct {
	Name     string
	Type     Type
	Kind     ColumnKind
	ID       base.ColumnID
	Reversed bool
}

// IsAtomic reports whether cells of this column are single atomic cells, as
// opposed to counters or collections. Collections are not represented in
// schema files yet, so only counters are non-atomic here.
func (c *Column) IsAtomic() bool {
	return c.Type.Name() != "counter"
}

// Schema is the logical schema of one table. It is immutable after
// construction and shared read-only by every component of a run.
type Schema struct {
	Keyspace string
	Table    string

	partitionKey []*Column
	clustering   []*Column
	static       []*Column
	regular      []*Column

	staticByName  map[string]*Column
	regularByName map[string]*Column
}

// New builds a schema from column definitions. Each slice is in declaration
// order; ids are assigned here.
func New(keyspace, table string, partitionKey, clustering, static, regular []Column) (*Schema, error) {
	if keyspace == "" || table == "" {
		return nil, errors.New("schema needs both a keyspace and a table name")
	}
	if len(partitionKey) == 0 {
		return nil, errors.Newf("schema %s.%s has no partition key", keyspace, table)
	}
	s := &Schema{
		Keyspace:      keyspace,
		Table:         table,
		staticByName:  make(map[string]*Column),
		regularByName: make(map[string]*Column),
	}
	seen := make(map[string]struct{})
	add := func(cols []Column, kind ColumnKind) []*Column {
		out := make([]*Column, len(cols))
		for i := range cols {
			c := cols[i]
			c.Kind = kind
			c.ID = base.ColumnID(i)
			out[i] = &c
		}
		return out
	}
	check := func(cols []Column) error {
		for i := range cols {
			if cols[i].Type == nil {
				return errors.Newf("column %q has no type", cols[i].Name)
			}
			if _, dup := seen[cols[i].Name]; dup {
				return errors.Newf("duplicate column %q", cols[i].Name)
			}
			seen[cols[i].Name] = struct{}{}
		}
		return nil
	}
	for _, cols := range [][]Column{partitionKey, clustering, static, regular} {
		if err := check(cols); err != nil {
			return nil, errors.Wrapf(err, "schema %s.%s", keyspace, table)
		}
	}
	s.partitionKey = add(partitionKey, PartitionKeyColumn)
	s.clustering = add(clustering, ClusteringKeyColumn)
	s.static = add(static, StaticColumn)
	s.regular = add(regular, RegularColumn)
	for _, c := range s.static {
		s.staticByName[c.Name] = c
	}
	for _, c := range s.regular {
		s.regularByName[c.Name] = c
	}
	return s, nil
}

// Name returns "keyspace.table".
func (s *Schema) Name() string {
	return s.Keyspace + "." + s.Table
}

func (s *Schema) PartitionKeyColumns() []*Column { return s.partitionKey }
func (s *Schema) ClusteringColumns() []*Column   { return s.clustering }
func (s *Schema) StaticColumns() []*Column       { return s.static }
func (s *Schema) RegularColumns() []*Column      { return s.regular }

// StaticColumn resolves a static column by name.
func (s *Schema) StaticColumn(name string) (*Column, bool) {
	c, ok := s.staticByName[name]
	return c, ok
}

// RegularColumn resolves a regular column by name.
func (s *Schema) RegularColumn(name string) (*Column, bool) {
	c, ok := s.regularByName[name]
	return c, ok
}

// ColumnAt returns the static or regular column with the given id.
func (s *Schema) ColumnAt(kind ColumnKind, id base.ColumnID) (*Column, error) {
	var cols []*Column
	switch kind {
	case StaticColumn:
		cols = s.static
	case RegularColumn:
		cols = s.regular
	default:
		return nil, errors.AssertionFailedf("no cells under column kind %s", kind)
	}
	if int(id) >= len(cols) {
		return nil, errors.Newf("no %s column with id %d in %s", kind, id, s.Name())
	}
	return cols[id], nil
}

// PartitionerName identifies the token function in sstable metadata.
const PartitionerName = "murmur3"

// Token derives the partition token: the first 64 bits of murmur3-128 over
// the serialized key.
func (s *Schema) Token(key base.PartitionKey) base.Token {
	h1, _ := murmur3.Sum128(key)
	return base.Token(h1)
}

// ComparePartitionKeys orders partitions: token first, raw key bytes second.
func (s *Schema) ComparePartitionKeys(a, b base.PartitionKey) int {
	ta, tb := s.Token(a), s.Token(b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	}
	return bytes.Compare(a, b)
}

// CompareClusteringKeys orders full or prefix clustering keys component-wise
// per the declared types and sort directions. A strict prefix compares equal
// to any key extending it.
func (s *Schema) CompareClusteringKeys(a, b base.ClusteringKey) (int, error) {
	ca, err := base.DecodeComponents(a)
	if err != nil {
		return 0, err
	}
	cb, err := base.DecodeComponents(b)
	if err != nil {
		return 0, err
	}
	n := len(ca)
	if len(cb) < n {
		n = len(cb)
	}
	if n > len(s.clustering) {
		return 0, errors.Newf("clustering key has %d components, schema %s declares %d", n, s.Name(), len(s.clustering))
	}
	for i := 0; i < n; i++ {
		col := s.clustering[i]
		if c := col.Type.Compare(ca[i], cb[i]); c != 0 {
			if col.Reversed {
				return -c, nil
			}
			return c, nil
		}
	}
	return 0, nil
}

// ComparePositions orders clustering positions. Prefix positions sort
// against extensions of their prefix according to their bound weight.
func (s *Schema) ComparePositions(a, b base.Position) (int, error) {
	c, err := s.CompareClusteringKeys(a.Key, b.Key)
	if err != nil || c != 0 {
		return c, err
	}
	la, lb := len(a.Key), len(b.Key)
	if la == lb {
		return int(a.Weight) - int(b.Weight), nil
	}
	// The shorter key is a proper prefix of the longer: its weight decides
	// on which side of the extensions it falls. Equal weight means the
	// position names the prefix row itself, which precedes its extensions.
	if la < lb {
		if a.Weight == base.AfterAll {
			return 1, nil
		}
		return -1, nil
	}
	if b.Weight == base.AfterAll {
		return -1, nil
	}
	return 1, nil
}

// FormatPartitionKey renders a partition key with the schema's types, e.g.
// (pk1, 42).
func (s *Schema) FormatPartitionKey(key base.PartitionKey) string {
	return s.formatComposite([]byte(key), columnTypes(s.partitionKey))
}

// FormatClusteringKey renders a clustering key prefix with the schema's
// types.
func (s *Schema) FormatClusteringKey(key base.ClusteringKey) string {
	return s.formatComposite([]byte(key), columnTypes(s.clustering))
}

func columnTypes(cols []*Column) []Type {
	types := make([]Type, len(cols))
	for i, c := range cols {
		types[i] = c.Type
	}
	return types
}

func (s *Schema) formatComposite(raw []byte, types []Type) string {
	components, err := base.DecodeComponents(raw)
	if err != nil {
		return fmt.Sprintf("<corrupt key: %v>", err)
	}
	parts := make([]string, 0, len(components))
	for i, c := range components {
		if i >= len(types) {
			parts = append(parts, fmt.Sprintf("<extra component %x>", c))
			continue
		}
		parts = append(parts, types[i].Format(c))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// MakePartitionKey serializes typed component values into a partition key.
func (s *Schema) MakePartitionKey(values ...string) (base.PartitionKey, error) {
	raw, err := makeComposite(values, columnTypes(s.partitionKey), len(s.partitionKey))
	return base.PartitionKey(raw), err
}

// MakeClusteringKey serializes typed component values into a clustering key
// prefix.
func (s *Schema) MakeClusteringKey(values ...string) (base.ClusteringKey, error) {
	raw, err := makeComposite(values, columnTypes(s.clustering), len(s.clustering))
	return base.ClusteringKey(raw), err
}

func makeComposite(values []string, types []Type, max int) ([]byte, error) {
	if len(values) > max {
		return nil, errors.Newf("%d key components given, schema declares %d", len(values), max)
	}
	components := make([][]byte, len(values))
	for i, v := range values {
		b, err := types[i].Parse(v)
		if err != nil {
			return nil, errors.Wrapf(err, "key component %d", i)
		}
		components[i] = b
	}
	return base.EncodeComponents(components), nil
}

// CheckPartitionKey validates the component shape of a raw partition key.
func (s *Schema) CheckPartitionKey(key base.PartitionKey) error {
	components, err := base.DecodeComponents(key)
	if err != nil {
		return err
	}
	if len(components) != len(s.partitionKey) {
		return errors.Newf("partition key has %d components, schema %s declares %d", len(components), s.Name(), len(s.partitionKey))
	}
	return nil
}

// CheckClusteringKey validates the component shape of a raw clustering key
// prefix.
func (s *Schema) CheckClusteringKey(key base.ClusteringKey) error {
	components, err := base.DecodeComponents(key)
	if err != nil {
		return err
	}
	if len(components) > len(s.clustering) {
		return errors.Newf("clustering key has %d components, schema %s declares %d", len(components), s.Name(), len(s.clustering))
	}
	return nil
}
