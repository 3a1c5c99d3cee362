// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package histogram aggregates every write timestamp in a fragment stream
// into time buckets and serialises the result as histogram.json.
package histogram

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/guptarohit/asciigraph"

	"github.com/colstore/sstool/internal/base"
)

// Bucket is the unit of time one histogram bin covers.
type Bucket int8

const (
	Hours Bucket = iota
	Days
	Weeks
	Months
	Years
)

// ParseBucket parses a --bucket value.
func ParseBucket(s string) (Bucket, error) {
	switch s {
	case "hours":
		return Hours, nil
	case "days":
		return Days, nil
	case "weeks":
		return Weeks, nil
	case "months":
		return Months, nil
	case "years":
		return Years, nil
	}
	return 0, errors.Newf("invalid value for option bucket: %s", s)
}

// Microsecond widths. Months and years use the mean Gregorian lengths
// (30.436875 and 365.2425 days), applied uniformly.
func (b Bucket) micros() int64 {
	const (
		hour  = int64(3600) * 1000 * 1000
		day   = 24 * hour
		week  = 7 * day
		month = 2629746 * 1000 * 1000
		year  = 31556952 * 1000 * 1000
	)
	switch b {
	case Hours:
		return hour
	case Days:
		return day
	case Weeks:
		return week
	case Months:
		return month
	case Years:
		return year
	}
	panic(fmt.Sprintf("Bucket(%d)", int8(b)))
}

// Collector is the writetime-histogram consumer. Every object carrying a
// write timestamp contributes: partition tombstones, row markers, row and
// shadowable tombstones, range tombstone changes, atomic cells, collection
// tombstones and collection sub-cells.
type Collector struct {
	bucket Bucket
	logger base.Logger

	counts     map[int64]uint64
	partitions uint64
	rows       uint64
	cells      uint64
	timestamps uint64

	// OutputDir receives histogram.json; empty means the current directory.
	OutputDir string
	// Graph, if non-nil, also receives an ascii rendering of the result.
	Graph io.Writer
}

// NewCollector builds the histogram consumer.
func NewCollector(bucket Bucket, logger base.Logger) *Collector {
	if logger == nil {
		logger = base.DefaultLogger
	}
	return &Collector{bucket: bucket, logger: logger, counts: make(map[int64]uint64)}
}

func (c *Collector) collect(ts int64) {
	width := c.bucket.micros()
	c.counts[ts/width*width]++
	c.timestamps++
}

func (c *Collector) collectCell(cell *base.Cell) error {
	switch cell.Kind {
	case base.CellAtomic, base.CellCounter:
		c.cells++
		c.collect(cell.Timestamp)
	case base.CellCollection:
		if !cell.Tombstone.IsEmpty() {
			c.collect(cell.Tombstone.Timestamp)
		}
		for i := range cell.Elements {
			c.cells++
			c.collect(cell.Elements[i].Cell.Timestamp)
		}
	default:
		return errors.Newf("cannot collect timestamp of cell of unknown kind %d", cell.Kind)
	}
	return nil
}

func (c *Collector) collectRow(r *base.Row) error {
	c.rows++
	for i := range r.Cells {
		if err := c.collectCell(&r.Cells[i].Cell); err != nil {
			return err
		}
	}
	return nil
}

// StartOfStream implements base.Consumer.
func (c *Collector) StartOfStream(ctx context.Context) error {
	return nil
}

// NewSSTable implements base.Consumer.
func (c *Collector) NewSSTable(ctx context.Context, path string) (base.Continuation, error) {
	return base.Continue, nil
}

func (c *Collector) ConsumePartitionStart(ctx context.Context, ps *base.PartitionStart) (base.Continuation, error) {
	c.partitions++
	if !ps.Tombstone.IsEmpty() {
		c.collect(ps.Tombstone.Timestamp)
	}
	return base.Continue, nil
}

func (c *Collector) ConsumeStaticRow(ctx context.Context, sr *base.StaticRow) (base.Continuation, error) {
	return base.Continue, c.collectRow(&sr.Cells)
}

func (c *Collector) ConsumeClusteringRow(ctx context.Context, cr *base.ClusteringRow) (base.Continuation, error) {
	if cr.Marker != nil {
		c.collect(cr.Marker.Timestamp)
	}
	if !cr.Tombstone.IsEmpty() {
		c.collect(cr.Tombstone.Timestamp)
	}
	if !cr.Shadowable.IsEmpty() {
		c.collect(cr.Shadowable.Timestamp)
	}
	return base.Continue, c.collectRow(&cr.Cells)
}

func (c *Collector) ConsumeRangeTombstoneChange(ctx context.Context, rtc *base.RangeTombstoneChange) (base.Continuation, error) {
	if !rtc.Tombstone.IsEmpty() {
		c.collect(rtc.Tombstone.Timestamp)
	}
	return base.Continue, nil
}

func (c *Collector) ConsumePartitionEnd(ctx context.Context) (base.Continuation, error) {
	return base.Continue, nil
}

func (c *Collector) EndOfSSTable(ctx context.Context) (base.Continuation, error) {
	return base.Continue, nil
}

// EndOfStream writes histogram.json. The file is written whole to a
// temporary name and renamed into place, so rerunning the operation either
// leaves the old file or replaces it with a complete new one.
func (c *Collector) EndOfStream(ctx context.Context) error {
	if len(c.counts) == 0 {
		c.logger.Infof("histogram empty, no data to write")
		return nil
	}
	c.logger.Infof("histogram has %d entries, collected from %d partitions, %d rows, %d cells: %d timestamps total",
		len(c.counts), c.partitions, c.rows, c.cells, c.timestamps)

	buckets := make([]int64, 0, len(c.counts))
	for b := range c.counts {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	path := filepath.Join(c.OutputDir, "histogram.json")
	tmp, err := os.CreateTemp(c.outputDir(), "histogram-*.json.tmp")
	if err != nil {
		return errors.Wrap(err, "creating histogram.json")
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	write := func(format string, args ...interface{}) error {
		_, err := fmt.Fprintf(tmp, format, args...)
		return err
	}
	if err := write("{\n\"buckets\": ["); err != nil {
		return err
	}
	for i, b := range buckets {
		sep := ","
		if i == 0 {
			sep = ""
		}
		if err := write("%s\n  %d", sep, b); err != nil {
			return err
		}
	}
	if err := write("\n],\n\"counts\": ["); err != nil {
		return err
	}
	for i, b := range buckets {
		sep := ","
		if i == 0 {
			sep = ""
		}
		if err := write("%s\n  %d", sep, c.counts[b]); err != nil {
			return err
		}
	}
	if err := write("\n]\n}\n"); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "writing histogram.json")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "writing histogram.json")
	}
	tmp = nil
	c.logger.Infof("histogram written to %s", path)

	if c.Graph != nil {
		series := make([]float64, len(buckets))
		for i, b := range buckets {
			series[i] = float64(c.counts[b])
		}
		fmt.Fprintln(c.Graph, asciigraph.Plot(series,
			asciigraph.Height(10),
			asciigraph.Caption(fmt.Sprintf("writetime histogram, %d bucket(s)", len(buckets)))))
	}
	return nil
}

func (c *Collector) outputDir() string {
	if c.OutputDir == "" {
		return "."
	}
	return c.OutputDir
}
