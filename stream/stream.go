// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package stream drives fragment readers into consumers: the per-sstable
// reader loop with its pause/skip protocol, the partition filter, and the
// k-way combiner merging several sstables into one ordered stream.
package stream

import (
	"context"

	"github.com/colstore/sstool/internal/base"
)

// Reader is what the driver demands of the codec's fragment source. Next
// returns ok=false at end of stream. NextPartition is the reader's native
// skip, typically served by the sstable index.
type Reader interface {
	Next(ctx context.Context) (f base.Fragment, ok bool, err error)
	NextPartition(ctx context.Context) error
	Close() error
}

// PartitionFilter is a set of partition keys to keep.
type PartitionFilter struct {
	keys map[string]struct{}
}

// NewPartitionFilter builds a filter; a nil return means no filtering.
func NewPartitionFilter(keys []base.PartitionKey) *PartitionFilter {
	if len(keys) == 0 {
		return nil
	}
	f := &PartitionFilter{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		f.keys[string(k)] = struct{}{}
	}
	return f
}

func (f *PartitionFilter) Contains(key base.PartitionKey) bool {
	_, ok := f.keys[string(key)]
	return ok
}

func (f *PartitionFilter) Len() int {
	return len(f.keys)
}

// Options configure the driver.
type Options struct {
	// Filter drops partitions whose key it does not contain.
	Filter *PartitionFilter
	// NoSkips drains rejected partitions fragment by fragment instead of
	// using the reader's native skip. The native skip goes through the
	// index, which is exactly what must be bypassed when inspecting an
	// sstable with a corrupt index.
	NoSkips bool
	Logger  base.Logger
}

// ConsumeReader runs one reader to completion against the consumer,
// honouring the pause/skip protocol of the consumer contract. The returned
// continuation is the consumer's EndOfSSTable verdict: Stop ends the whole
// run.
func ConsumeReader(ctx context.Context, rd Reader, c base.Consumer, path string, opts Options) (base.Continuation, error) {
	cont, err := c.NewSSTable(ctx, path)
	if err != nil {
		return base.Stop, err
	}
	if cont == base.Stop {
		return c.EndOfSSTable(ctx)
	}
	// While skipping, fragments are dropped until the next partition start.
	// The native skip is only a hint to the reader: a reader whose skip is
	// a no-op (or --no-skips) degrades to this drain, with the same
	// consumer call sequence either way.
	skipping := false
loop:
	for {
		f, ok, err := rd.Next(ctx)
		if err != nil {
			return base.Stop, err
		}
		if !ok {
			break
		}
		if skipping {
			if f.Kind() != base.KindPartitionStart {
				continue
			}
			skipping = false
		}
		if f.Kind() == base.KindPartitionStart {
			if opts.Filter != nil && !opts.Filter.Contains(f.PartitionStart().Key) {
				// The consumer never sees a filtered partition, so no
				// synthetic partition end either.
				skipping = true
				if !opts.NoSkips {
					if err := rd.NextPartition(ctx); err != nil {
						return base.Stop, err
					}
				}
				continue
			}
		}
		cont, err := f.Consume(ctx, c)
		if err != nil {
			return base.Stop, err
		}
		if cont == base.Continue {
			continue
		}
		switch f.Kind() {
		case base.KindPartitionEnd:
			// Stop after a partition end skips the rest of the sstable.
			break loop
		default:
			// Mid-partition stop: the partition's remaining fragments are
			// skipped and the consumer receives a synthetic partition end
			// so its bookkeeping stays balanced.
			cont, err := c.ConsumePartitionEnd(ctx)
			if err != nil {
				return base.Stop, err
			}
			if cont == base.Stop {
				break loop
			}
			skipping = true
			if !opts.NoSkips {
				if err := rd.NextPartition(ctx); err != nil {
					return base.Stop, err
				}
			}
		}
	}
	return c.EndOfSSTable(ctx)
}

// Source pairs a reader with the sstable path reported to the consumer.
type Source struct {
	Path   string
	Reader Reader
}

// ConsumeStream runs the full stream protocol: StartOfStream, each source
// in order (or one merged source), EndOfStream. Sources are closed as they
// finish; on error every remaining source is closed before returning.
func ConsumeStream(ctx context.Context, sources []Source, c base.Consumer, opts Options) error {
	defer func() {
		for i := range sources {
			if sources[i].Reader != nil {
				_ = sources[i].Reader.Close()
			}
		}
	}()
	if err := c.StartOfStream(ctx); err != nil {
		return err
	}
	for i := range sources {
		cont, err := ConsumeReader(ctx, sources[i].Reader, c, sources[i].Path, opts)
		_ = sources[i].Reader.Close()
		sources[i].Reader = nil
		if err != nil {
			return err
		}
		if cont == base.Stop {
			break
		}
	}
	return c.EndOfStream(ctx)
}
