// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package stream

import (
	"context"
	"fmt"
	"testing"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/internal/datatest"
	"github.com/colstore/sstool/schema"
)

func testSchema(t testing.TB) *schema.Schema {
	t.Helper()
	return datatest.Schema(t)
}

func parseFragments(t testing.TB, s *schema.Schema, input string) []base.Fragment {
	t.Helper()
	return datatest.ParseFragments(t, s, input)
}

// sliceReader serves a fragment slice through the Reader contract. The
// native skip jumps to the next partition start; with brokenSkip it is a
// no-op, modelling a reader whose index cannot be used.
type sliceReader struct {
	frags      []base.Fragment
	pos        int
	skips      int
	brokenSkip bool
	closed     bool
}

func newSliceReader(frags []base.Fragment) *sliceReader {
	return &sliceReader{frags: frags}
}

func (r *sliceReader) Next(ctx context.Context) (base.Fragment, bool, error) {
	if err := ctx.Err(); err != nil {
		return base.Fragment{}, false, err
	}
	if r.pos >= len(r.frags) {
		return base.Fragment{}, false, nil
	}
	f := r.frags[r.pos]
	r.pos++
	return f, true, nil
}

func (r *sliceReader) NextPartition(ctx context.Context) error {
	r.skips++
	if r.brokenSkip {
		return nil
	}
	for r.pos < len(r.frags) && r.frags[r.pos].Kind() != base.KindPartitionStart {
		r.pos++
	}
	return nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

// recordingConsumer records one line per callback and can return Stop on
// chosen calls.
type recordingConsumer struct {
	s     *schema.Schema
	calls []string
	// stopOn maps a call index (1-based, counting every callback) to Stop.
	stopOn map[int]bool
	n      int
}

func (c *recordingConsumer) record(format string, args ...interface{}) base.Continuation {
	c.n++
	line := fmt.Sprintf(format, args...)
	cont := base.Continue
	if c.stopOn[c.n] {
		cont = base.Stop
		line += " -> stop"
	}
	c.calls = append(c.calls, line)
	return cont
}

func (c *recordingConsumer) StartOfStream(ctx context.Context) error {
	c.record("start-of-stream")
	return nil
}

func (c *recordingConsumer) NewSSTable(ctx context.Context, path string) (base.Continuation, error) {
	if path == "" {
		path = "anonymous"
	}
	return c.record("new-sstable %s", path), nil
}

func (c *recordingConsumer) ConsumePartitionStart(ctx context.Context, ps *base.PartitionStart) (base.Continuation, error) {
	return c.record("partition-start %s", c.s.FormatPartitionKey(ps.Key)), nil
}

func (c *recordingConsumer) ConsumeStaticRow(ctx context.Context, sr *base.StaticRow) (base.Continuation, error) {
	return c.record("static-row"), nil
}

func (c *recordingConsumer) ConsumeClusteringRow(ctx context.Context, cr *base.ClusteringRow) (base.Continuation, error) {
	return c.record("clustering-row %s", c.s.FormatClusteringKey(cr.Key)), nil
}

func (c *recordingConsumer) ConsumeRangeTombstoneChange(ctx context.Context, rtc *base.RangeTombstoneChange) (base.Continuation, error) {
	return c.record("range-tombstone-change %s %s", c.s.FormatClusteringKey(rtc.Position.Key), rtc.Position.Weight), nil
}

func (c *recordingConsumer) ConsumePartitionEnd(ctx context.Context) (base.Continuation, error) {
	return c.record("partition-end"), nil
}

func (c *recordingConsumer) EndOfSSTable(ctx context.Context) (base.Continuation, error) {
	return c.record("end-of-sstable"), nil
}

func (c *recordingConsumer) EndOfStream(ctx context.Context) error {
	c.record("end-of-stream")
	return nil
}
