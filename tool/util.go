// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tool

import (
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
	"github.com/colstore/sstool/sstable"
	"github.com/colstore/sstool/stream"
)

var stdout = io.Writer(os.Stdout)
var stderr = io.Writer(os.Stderr)

// UsageError marks errors the binary reports with exit code 2.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

func usagef(format string, args ...interface{}) error {
	return &UsageError{Err: errors.Newf(format, args...)}
}

// loadSchema resolves the schema from the shared flags; exactly one of
// --schema-file and --system-schema must be given.
func (t *T) loadSchema() (*schema.Schema, error) {
	switch {
	case t.schemaFile != "" && t.systemSchema != "":
		return nil, usagef("--schema-file and --system-schema are mutually exclusive")
	case t.schemaFile != "":
		return schema.LoadFile(t.schemaFile)
	case t.systemSchema != "":
		return schema.Lookup(t.systemSchema)
	}
	return nil, usagef("one of --schema-file and --system-schema is required")
}

// openSSTables opens every positional sstable argument against the schema.
func (t *T) openSSTables(s *schema.Schema, args []string) ([]*sstable.SSTable, error) {
	if len(args) == 0 {
		return nil, usagef("no sstables specified on the command line")
	}
	ssts := make([]*sstable.SSTable, 0, len(args))
	for _, arg := range args {
		sst, err := sstable.Open(arg, s)
		if err != nil {
			return nil, err
		}
		ssts = append(ssts, sst)
	}
	return ssts, nil
}

// partitionFilter builds the filter from --partition values and a
// --partitions-file of whitespace-separated hex keys.
func (t *T) partitionFilter(s *schema.Schema, hexKeys []string, file string) (*stream.PartitionFilter, error) {
	keys := make([]base.PartitionKey, 0, len(hexKeys))
	decode := func(h string) error {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return errors.Wrapf(err, "invalid partition key %q", h)
		}
		key := base.PartitionKey(raw)
		if err := s.CheckPartitionKey(key); err != nil {
			return errors.Wrapf(err, "invalid partition key %q", h)
		}
		keys = append(keys, key)
		return nil
	}
	for _, h := range hexKeys {
		if err := decode(h); err != nil {
			return nil, err
		}
	}
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.Wrapf(err, "opening partitions file %s", file)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Split(bufio.ScanWords)
		for scanner.Scan() {
			if err := decode(scanner.Text()); err != nil {
				return nil, err
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "reading partitions file %s", file)
		}
	}
	filter := stream.NewPartitionFilter(keys)
	if filter != nil {
		t.logger.Infof("filtering enabled, %d partition(s) to filter for", filter.Len())
	}
	return filter, nil
}

// sources builds the driver inputs: one reader per sstable, or a single
// combined reader when merging.
func sources(ctx context.Context, ssts []*sstable.SSTable, merge bool) ([]stream.Source, error) {
	readers := make([]stream.Reader, 0, len(ssts))
	out := make([]stream.Source, 0, len(ssts))
	for _, sst := range ssts {
		rd, err := sst.NewFragmentReader(ctx)
		if err != nil {
			for _, r := range readers {
				_ = r.Close()
			}
			return nil, err
		}
		readers = append(readers, rd)
		out = append(out, stream.Source{Path: sst.Path(), Reader: rd})
	}
	if !merge {
		return out, nil
	}
	combined := stream.Combine(ssts[0].Schema(), readers, sstable.MergeCounterCells)
	return []stream.Source{{Path: "", Reader: combined}}, nil
}
