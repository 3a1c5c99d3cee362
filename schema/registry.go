// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package schema

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Lookup resolves a --system-schema name of the form keyspace.table from the
// built-in registry.
func Lookup(name string) (*Schema, error) {
	build, ok := registry[name]
	if !ok {
		return nil, errors.Newf("unknown system schema %q, known: %s", name, strings.Join(RegisteredNames(), ", "))
	}
	s, err := build()
	if err != nil {
		return nil, errors.Wrapf(err, "building system schema %q", name)
	}
	return s, nil
}

// RegisteredNames lists the built-in schema names, sorted.
func RegisteredNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var registry = map[string]func() (*Schema, error){
	"system.local": func() (*Schema, error) {
		return New("system", "local",
			[]Column{{Name: "key", Type: textType{}}},
			nil,
			nil,
			[]Column{
				{Name: "bootstrapped", Type: textType{}},
				{Name: "cluster_name", Type: textType{}},
				{Name: "data_center", Type: textType{}},
				{Name: "host_id", Type: uuidType{}},
				{Name: "partitioner", Type: textType{}},
				{Name: "rack", Type: textType{}},
				{Name: "release_version", Type: textType{}},
				{Name: "schema_version", Type: uuidType{}},
			})
	},
	"system.peers": func() (*Schema, error) {
		return New("system", "peers",
			[]Column{{Name: "peer", Type: textType{}}},
			nil,
			nil,
			[]Column{
				{Name: "data_center", Type: textType{}},
				{Name: "host_id", Type: uuidType{}},
				{Name: "rack", Type: textType{}},
				{Name: "release_version", Type: textType{}},
				{Name: "schema_version", Type: uuidType{}},
				{Name: "supported_features", Type: textType{}},
			})
	},
	"system.large_partitions": func() (*Schema, error) {
		return New("system", "large_partitions",
			[]Column{
				{Name: "keyspace_name", Type: textType{}},
				{Name: "table_name", Type: textType{}},
			},
			[]Column{
				{Name: "sstable_name", Type: textType{}},
				{Name: "partition_size", Type: bigintType{}, Reversed: true},
				{Name: "partition_key", Type: textType{}},
			},
			nil,
			[]Column{
				{Name: "compaction_time", Type: timestampType{}},
				{Name: "rows", Type: bigintType{}},
			})
	},
}
