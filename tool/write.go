// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tool

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/colstore/sstool/parse"
	"github.com/colstore/sstool/schema"
	"github.com/colstore/sstool/sstable"
	"github.com/colstore/sstool/validate"
)

// writeT implements the write operation: structured input file → parser →
// validator → codec writer.
type writeT struct {
	t    *T
	Root *cobra.Command

	inputFile   string
	outputDir   string
	generation  int64
	level       string
	compression string
}

func newWrite(t *T) *writeT {
	w := &writeT{t: t}
	w.Root = &cobra.Command{
		Use:   "write [options]",
		Short: "write an sstable from a structured dump",
		Long: `
Build a new sstable out of a JSON document in the dump-data format (a
top-level array of partition objects). The stream is validated at
--validation-level before anything is committed; a validation or parse
failure removes every partially written component.

Counter and non-atomic cells are not supported on the write path.
`,
		Args: cobra.NoArgs,
		RunE: w.run,
	}
	w.Root.Flags().StringVar(
		&w.inputFile, "input-file", "", "the file containing the input (required)")
	w.Root.Flags().StringVar(
		&w.outputDir, "output-dir", ".", "directory to place the output sstable in")
	w.Root.Flags().Int64Var(
		&w.generation, "generation", 0, "generation of the generated sstable (required)")
	w.Root.Flags().StringVar(
		&w.level, "validation-level", "clustering_key",
		"degree of validation on the output, one of (partition_region, token, partition_key, clustering_key)")
	w.Root.Flags().StringVar(
		&w.compression, "compression", "snappy", "compression of the output data component, one of (snappy, lz4, zstd, none)")
	return w
}

func (w *writeT) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := w.t.loadSchema()
	if err != nil {
		return err
	}
	if w.inputFile == "" {
		return usagef("missing required option --input-file")
	}
	if !cmd.Flags().Changed("generation") {
		return usagef("missing required option --generation")
	}
	level, err := validate.ParseLevel(w.level)
	if err != nil {
		return &UsageError{Err: err}
	}

	in, err := os.Open(w.inputFile)
	if err != nil {
		return errors.Wrapf(err, "opening input file %s", w.inputFile)
	}
	defer in.Close()

	desc := sstable.Descriptor{
		Dir:        w.outputDir,
		Keyspace:   s.Keyspace,
		Table:      s.Table,
		Generation: w.generation,
	}
	writer, err := sstable.NewWriter(desc, s, sstable.WriterOptions{
		Compression: w.compression,
		Origin:      "sstool-write",
	})
	if err != nil {
		return err
	}
	if err := w.pipe(ctx, in, s, level, writer); err != nil {
		writer.Abort()
		return err
	}
	if err := writer.Close(ctx); err != nil {
		writer.Abort()
		return err
	}
	w.t.logger.Infof("wrote sstable %s", desc.Path())
	return nil
}

// pipe runs parser → validator → writer. The validator gates every
// fragment: on the write path any violation is fatal.
func (w *writeT) pipe(ctx context.Context, in *os.File, s *schema.Schema, level validate.Level, writer *sstable.Writer) error {
	parser := parse.NewParser(ctx, in, s)
	defer parser.Close()
	validator := validate.NewValidator(s, level, w.t.logger)
	if _, err := validator.NewSSTable(ctx, ""); err != nil {
		return err
	}
	for {
		f, ok, err := parser.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := validator.Observe(ctx, &f); err != nil {
			return err
		}
		if err := writer.WriteFragment(ctx, &f); err != nil {
			return err
		}
	}
	before := validator.TotalErrors()
	if _, err := validator.EndOfSSTable(ctx); err != nil {
		return err
	}
	if validator.TotalErrors() > before {
		return errors.New("invalid fragment stream: stream ended inside a partition")
	}
	return nil
}
