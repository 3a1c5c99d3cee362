// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package sstable implements the physical sstable codec: component naming,
// the binary fragment codec of the Data component, chunked compression, the
// metadata components, and the reader and writer handles the rest of the
// tool drives.
package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Component names the files an sstable is made of.
type Component string

const (
	ComponentData            Component = "Data.db"
	ComponentIndex           Component = "Index.db"
	ComponentSummary         Component = "Summary.db"
	ComponentStatistics      Component = "Statistics.db"
	ComponentCompressionInfo Component = "CompressionInfo.db"
	ComponentMetadata        Component = "Metadata.db"
	ComponentDigest          Component = "Digest.xxh64"
	ComponentTOC             Component = "TOC.txt"
)

// allComponents lists every known component. The writer writes TOC last so
// a complete TOC implies a complete sstable.
var allComponents = []Component{
	ComponentData,
	ComponentIndex,
	ComponentSummary,
	ComponentStatistics,
	ComponentCompressionInfo,
	ComponentMetadata,
	ComponentDigest,
	ComponentTOC,
}

// Descriptor locates one sstable on disk.
type Descriptor struct {
	Dir        string
	Keyspace   string
	Table      string
	Generation int64
}

// ComponentPath returns the path of one component of the sstable.
func (d Descriptor) ComponentPath(c Component) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s-%s-%d-%s", d.Keyspace, d.Table, d.Generation, c))
}

// Path returns the Data component path, the sstable's canonical name.
func (d Descriptor) Path() string {
	return d.ComponentPath(ComponentData)
}

// ParsePath derives a Descriptor from the path of any sstable component.
func ParsePath(path string) (Descriptor, error) {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	fields := strings.SplitN(name, "-", 4)
	if len(fields) != 4 {
		return Descriptor{}, errors.Newf("malformed sstable file name %q, want <keyspace>-<table>-<generation>-<component>", name)
	}
	gen, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Descriptor{}, errors.Wrapf(err, "malformed generation in sstable file name %q", name)
	}
	d := Descriptor{Dir: dir, Keyspace: fields[0], Table: fields[1], Generation: gen}
	known := false
	for _, c := range allComponents {
		if Component(fields[3]) == c {
			known = true
			break
		}
	}
	if !known {
		return Descriptor{}, errors.Newf("unknown sstable component %q in %q", fields[3], name)
	}
	return d, nil
}

// writeTOC writes the TOC component listing every component present.
func writeTOC(d Descriptor, present []Component) error {
	names := make([]string, len(present))
	for i, c := range present {
		names[i] = string(c)
	}
	sort.Strings(names)
	return os.WriteFile(d.ComponentPath(ComponentTOC), []byte(strings.Join(names, "\n")+"\n"), 0o644)
}
