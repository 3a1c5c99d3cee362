// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import "context"

// Continuation is the signal every consume callback returns. Its meaning is
// scoped to the callback it is returned from:
//
//	NewSSTable           Stop skips the sstable (jump to EndOfSSTable)
//	ConsumePartitionStart,
//	ConsumeStaticRow,
//	ConsumeClusteringRow,
//	ConsumeRangeTombstoneChange
//	                     Stop skips the rest of the partition; the driver
//	                     delivers a synthetic partition end
//	ConsumePartitionEnd  Stop skips the rest of the sstable
//	EndOfSSTable         Stop ends the whole run
type Continuation int8

const (
	Continue Continuation = iota
	Stop
)

func (c Continuation) String() string {
	if c == Stop {
		return "stop"
	}
	return "continue"
}

// Consumer is the uniform contract every operation implements. The driver
// guarantees single-stream, cooperative delivery: each callback returns
// before the next fragment is produced.
//
// NewSSTable receives the sstable's path, or "" when consuming the merged
// stream of several sstables.
type Consumer interface {
	StartOfStream(ctx context.Context) error
	NewSSTable(ctx context.Context, path string) (Continuation, error)
	ConsumePartitionStart(ctx context.Context, ps *PartitionStart) (Continuation, error)
	ConsumeStaticRow(ctx context.Context, sr *StaticRow) (Continuation, error)
	ConsumeClusteringRow(ctx context.Context, cr *ClusteringRow) (Continuation, error)
	ConsumeRangeTombstoneChange(ctx context.Context, rtc *RangeTombstoneChange) (Continuation, error)
	ConsumePartitionEnd(ctx context.Context) (Continuation, error)
	EndOfSSTable(ctx context.Context) (Continuation, error)
	EndOfStream(ctx context.Context) error
}

// Consume dispatches the fragment to the matching Consumer callback. Every
// kind is named; an invalid fragment is a programmer error.
func (f *Fragment) Consume(ctx context.Context, c Consumer) (Continuation, error) {
	switch f.kind {
	case KindPartitionStart:
		return c.ConsumePartitionStart(ctx, f.start)
	case KindStaticRow:
		return c.ConsumeStaticRow(ctx, f.srow)
	case KindClusteringRow:
		return c.ConsumeClusteringRow(ctx, f.crow)
	case KindRangeTombstoneChange:
		return c.ConsumeRangeTombstoneChange(ctx, f.rtc)
	case KindPartitionEnd:
		return c.ConsumePartitionEnd(ctx)
	case KindInvalid:
		panic("consuming invalid fragment")
	}
	panic("unreachable")
}
