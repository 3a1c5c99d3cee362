// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package tool assembles the sstool command surface: one cobra command per
// operation, each declaring exactly the options it recognises.
package tool

import (
	"github.com/spf13/cobra"

	"github.com/colstore/sstool/internal/base"
)

// T is the container for the whole command surface.
type T struct {
	Root *cobra.Command

	logger base.Logger

	// Schema selection, shared by every operation.
	schemaFile   string
	systemSchema string

	dump       *dumpT
	histogram  *histogramT
	validate   *validateT
	decompress *decompressT
	write      *writeT
}

// New builds the command tree.
func New(logger base.Logger) *T {
	if logger == nil {
		logger = base.DefaultLogger
	}
	t := &T{logger: logger}
	t.Root = &cobra.Command{
		Use:   "sstool <operation> [options] [sstables...]",
		Short: "inspect and produce sstables of a wide-column store",
		Long: `sstool reads and writes the on-disk sstable format. Every operation
interprets the binary components against a schema, supplied either as a
YAML schema file (--schema-file) or by name from the built-in registry
(--system-schema).
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	t.Root.PersistentFlags().StringVar(
		&t.schemaFile, "schema-file", "", "path of the YAML schema file to interpret sstables with")
	t.Root.PersistentFlags().StringVar(
		&t.systemSchema, "system-schema", "", "name (keyspace.table) of a built-in schema to interpret sstables with")

	t.dump = newDump(t)
	t.histogram = newHistogram(t)
	t.validate = newValidate(t)
	t.decompress = newDecompress(t)
	t.write = newWrite(t)

	t.Root.AddCommand(t.dump.Commands...)
	t.Root.AddCommand(t.histogram.Root, t.validate.Validate, t.validate.Checksums, t.decompress.Root, t.write.Root)
	return t
}
