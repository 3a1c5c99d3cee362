// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tool

import (
	"github.com/spf13/cobra"

	"github.com/colstore/sstool/dump"
	"github.com/colstore/sstool/histogram"
	"github.com/colstore/sstool/stream"
)

// histogramT implements writetime-histogram.
type histogramT struct {
	t    *T
	Root *cobra.Command

	bucket       string
	outputFormat string
}

func newHistogram(t *T) *histogramT {
	h := &histogramT{t: t}
	h.Root = &cobra.Command{
		Use:   "writetime-histogram [options] <sstables>",
		Short: "generate a histogram of all write timestamps",
		Long: `
Collect every write timestamp in the sstables (cell timestamps, tombstones,
row markers) into a histogram and write it to histogram.json in the current
directory. With --output-format=text the histogram is also plotted to
standard output.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: h.run,
	}
	h.Root.Flags().StringVar(
		&h.bucket, "bucket", "months", "the unit of time to use as bucket, one of (years, months, weeks, days, hours)")
	h.Root.Flags().StringVar(
		&h.outputFormat, "output-format", "json", "the output format, one of (text, json)")
	return h
}

func (h *histogramT) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := h.t.loadSchema()
	if err != nil {
		return err
	}
	bucket, err := histogram.ParseBucket(h.bucket)
	if err != nil {
		return &UsageError{Err: err}
	}
	format, err := dump.ParseOutputFormat(h.outputFormat)
	if err != nil {
		return &UsageError{Err: err}
	}
	ssts, err := h.t.openSSTables(s, args)
	if err != nil {
		return err
	}
	srcs, err := sources(ctx, ssts, false)
	if err != nil {
		return err
	}
	collector := histogram.NewCollector(bucket, h.t.logger)
	if format == dump.FormatText {
		collector.Graph = stdout
	}
	return stream.ConsumeStream(ctx, srcs, collector, stream.Options{Logger: h.t.logger})
}
