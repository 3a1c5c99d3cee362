// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tool

import (
	"github.com/spf13/cobra"

	"github.com/colstore/sstool/dump"
	"github.com/colstore/sstool/schema"
	"github.com/colstore/sstool/sstable"
	"github.com/colstore/sstool/stream"
)

// dumpT implements the dump-* operations.
type dumpT struct {
	t        *T
	Commands []*cobra.Command

	// dump-data flags.
	partitions     []string
	partitionsFile string
	merge          bool
	noSkips        bool
	outputFormat   string
}

func newDump(t *T) *dumpT {
	d := &dumpT{t: t, outputFormat: "json"}

	data := &cobra.Command{
		Use:   "dump-data [options] <sstables>",
		Short: "dump the content of sstable(s)",
		Long: `
Dump the content of the data component of the sstables. The JSON output is
the input format of the write operation; the text output is a line-per-event
diagnostic rendering.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: d.runData,
	}
	data.Flags().StringArrayVar(
		&d.partitions, "partition", nil, "partition(s) to filter for, in hex format")
	data.Flags().StringVar(
		&d.partitionsFile, "partitions-file", "", "file of whitespace-separated hex partition keys to filter for")
	data.Flags().BoolVar(
		&d.merge, "merge", false, "merge all sstables into a single fragment stream")
	data.Flags().BoolVar(
		&d.noSkips, "no-skips", false, "drain skipped partitions instead of using the index, works with a corrupt index")
	data.Flags().StringVar(
		&d.outputFormat, "output-format", "json", "the output format, one of (text, json)")

	index := &cobra.Command{
		Use:   "dump-index <sstables>",
		Short: "dump the content of sstable index(es)",
		Args:  cobra.MinimumNArgs(1),
		RunE: d.metadataRunner(func(w *dump.Writer, s *schema.Schema, sst *sstable.SSTable) error {
			entries, err := sst.Index()
			if err != nil {
				return err
			}
			dump.Index(w, s, entries)
			return nil
		}),
	}
	compression := &cobra.Command{
		Use:   "dump-compression-info <sstables>",
		Short: "dump the compression info of sstable(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE: d.metadataRunner(func(w *dump.Writer, s *schema.Schema, sst *sstable.SSTable) error {
			dump.CompressionInfo(w, sst.CompressionInfo())
			return nil
		}),
	}
	summary := &cobra.Command{
		Use:   "dump-summary <sstables>",
		Short: "dump the summary of sstable(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE: d.metadataRunner(func(w *dump.Writer, s *schema.Schema, sst *sstable.SSTable) error {
			sum, err := sst.Summary()
			if err != nil {
				return err
			}
			dump.Summary(w, s, sum)
			return nil
		}),
	}
	statistics := &cobra.Command{
		Use:   "dump-statistics <sstables>",
		Short: "dump the statistics of sstable(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE: d.metadataRunner(func(w *dump.Writer, s *schema.Schema, sst *sstable.SSTable) error {
			st, err := sst.Statistics()
			if err != nil {
				return err
			}
			dump.Statistics(w, st)
			return nil
		}),
	}
	metadata := &cobra.Command{
		Use:   "dump-scylla-metadata <sstables>",
		Short: "dump the store-specific metadata of sstable(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE: d.metadataRunner(func(w *dump.Writer, s *schema.Schema, sst *sstable.SSTable) error {
			m, err := sst.Metadata()
			if err != nil {
				return err
			}
			dump.Metadata(w, m)
			return nil
		}),
	}

	d.Commands = []*cobra.Command{data, index, compression, summary, statistics, metadata}
	return d
}

func (d *dumpT) runData(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := d.t.loadSchema()
	if err != nil {
		return err
	}
	format, err := dump.ParseOutputFormat(d.outputFormat)
	if err != nil {
		return &UsageError{Err: err}
	}
	filter, err := d.t.partitionFilter(s, d.partitions, d.partitionsFile)
	if err != nil {
		return err
	}
	ssts, err := d.t.openSSTables(s, args)
	if err != nil {
		return err
	}
	srcs, err := sources(ctx, ssts, d.merge)
	if err != nil {
		return err
	}
	consumer := dump.NewDataConsumer(s, stdout, format)
	return stream.ConsumeStream(ctx, srcs, consumer, stream.Options{
		Filter:  filter,
		NoSkips: d.noSkips,
		Logger:  d.t.logger,
	})
}

// metadataRunner wraps the descriptor-projection dumpers in the shared
// whole-tool JSON envelope.
func (d *dumpT) metadataRunner(project func(*dump.Writer, *schema.Schema, *sstable.SSTable) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := d.t.loadSchema()
		if err != nil {
			return err
		}
		ssts, err := d.t.openSSTables(s, args)
		if err != nil {
			return err
		}
		w := dump.NewWriter(stdout)
		w.StartStream()
		for _, sst := range ssts {
			w.SSTableKey(sst.Path())
			if err := project(w, s, sst); err != nil {
				return err
			}
		}
		w.EndStream()
		return w.Flush()
	}
}
