// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package schema

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// schemaFile is the YAML shape of a --schema-file document.
type schemaFile struct {
	Keyspace       string       `yaml:"keyspace"`
	Table          string       `yaml:"table"`
	PartitionKey   []columnFile `yaml:"partition_key"`
	ClusteringKey  []columnFile `yaml:"clustering_key"`
	StaticColumns  []columnFile `yaml:"static_columns"`
	RegularColumns []columnFile `yaml:"regular_columns"`
}

type columnFile struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Order string `yaml:"order"`
}

// LoadFile reads a schema from a YAML schema file.
func LoadFile(path string) (*Schema, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading schema file %s", path)
	}
	s, err := Parse(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "schema file %s", path)
	}
	return s, nil
}

// Parse parses a YAML schema document.
func Parse(buf []byte) (*Schema, error) {
	var f schemaFile
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "parsing schema document")
	}
	convert := func(cols []columnFile, clustering bool) ([]Column, error) {
		out := make([]Column, len(cols))
		for i, c := range cols {
			if c.Name == "" {
				return nil, errors.Newf("column %d has no name", i)
			}
			t, err := TypeByName(c.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "column %q", c.Name)
			}
			reversed := false
			switch c.Order {
			case "", "asc":
			case "desc":
				if !clustering {
					return nil, errors.Newf("column %q: only clustering columns take an order", c.Name)
				}
				reversed = true
			default:
				return nil, errors.Newf("column %q: invalid order %q, want asc or desc", c.Name, c.Order)
			}
			out[i] = Column{Name: c.Name, Type: t, Reversed: reversed}
		}
		return out, nil
	}
	pk, err := convert(f.PartitionKey, false)
	if err != nil {
		return nil, err
	}
	ck, err := convert(f.ClusteringKey, true)
	if err != nil {
		return nil, err
	}
	static, err := convert(f.StaticColumns, false)
	if err != nil {
		return nil, err
	}
	regular, err := convert(f.RegularColumns, false)
	if err != nil {
		return nil, err
	}
	return New(f.Keyspace, f.Table, pk, ck, static, regular)
}
