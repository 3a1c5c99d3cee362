// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package validate enforces the fragment stream's global ordering
// invariants: the partition grammar, token order, partition key order and
// clustering order, at a configurable strictness level.
package validate

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// Level is the validation strictness. Each level subsumes all lower ones.
type Level int8

const (
	PartitionRegion Level = iota
	Token
	PartitionKey
	ClusteringKey
)

var levelNames = map[string]Level{
	"partition_region": PartitionRegion,
	"token":            Token,
	"partition_key":    PartitionKey,
	"clustering_key":   ClusteringKey,
}

// ParseLevel parses a --validation-level value.
func ParseLevel(s string) (Level, error) {
	l, ok := levelNames[s]
	if !ok {
		return 0, errors.Newf("invalid validation-level %s, want one of (partition_region, token, partition_key, clustering_key)", s)
	}
	return l, nil
}

func (l Level) String() string {
	for name, level := range levelNames {
		if level == l {
			return name
		}
	}
	return fmt.Sprintf("Level(%d)", int8(l))
}

type streamState int8

const (
	stateInitial streamState = iota
	stateInPartition
	statePartitionEnded
)

// Validator is the validating consumer. Ordering violations are counted and
// reported as diagnostics; only a mismatched partition scope stops the
// sstable. The same checker gates the write path through Observe, where
// every violation is fatal.
type Validator struct {
	schema *schema.Schema
	level  Level
	logger base.Logger

	path        string
	state       streamState
	sawStatic   bool
	sawElements bool

	havePrevPartition bool
	lastToken         base.Token
	lastKey           base.PartitionKey
	havePos           bool
	lastPos           base.Position
	lastWasRow        bool
	openTombstone     base.Tombstone
	abortSSTable      bool

	sstableErrors uint64
	totalErrors   uint64
	sstables      int
	invalid       int

	// Results records one row per validated sstable for summary output.
	Results []Result
}

// Result is one sstable's validation verdict.
type Result struct {
	Path   string
	Errors uint64
}

// NewValidator builds a validating consumer at the given level.
func NewValidator(s *schema.Schema, level Level, logger base.Logger) *Validator {
	if logger == nil {
		logger = base.DefaultLogger
	}
	return &Validator{schema: s, level: level, logger: logger}
}

// TotalErrors returns the error count accumulated over the whole stream.
func (v *Validator) TotalErrors() uint64 {
	return v.totalErrors
}

func (v *Validator) report(format string, args ...interface{}) {
	v.sstableErrors++
	v.totalErrors++
	name := v.path
	if name == "" {
		name = "the stream"
	}
	v.logger.Errorf("%s: %s", name, fmt.Sprintf(format, args...))
}

// StartOfStream implements base.Consumer.
func (v *Validator) StartOfStream(ctx context.Context) error {
	return nil
}

// NewSSTable implements base.Consumer.
func (v *Validator) NewSSTable(ctx context.Context, path string) (base.Continuation, error) {
	v.path = path
	v.state = stateInitial
	v.sstableErrors = 0
	v.havePrevPartition = false
	v.havePos = false
	v.abortSSTable = false
	v.openTombstone = base.Tombstone{}
	if path != "" {
		v.logger.Infof("validating %s", path)
	}
	return base.Continue, nil
}

func (v *Validator) ConsumePartitionStart(ctx context.Context, ps *base.PartitionStart) (base.Continuation, error) {
	if v.state == stateInPartition {
		v.report("partition start inside open partition (key %s)", ps.Key)
		v.abortSSTable = true
		return base.Stop, nil
	}
	if v.level >= Token && v.havePrevPartition {
		tok := ps.Token
		switch {
		case tok < v.lastToken:
			v.report("out of order token: %d after %d", tok, v.lastToken)
		case v.level >= PartitionKey:
			if c := v.schema.ComparePartitionKeys(ps.Key, v.lastKey); c <= 0 {
				v.report("out of order partition key: %s after %s", ps.Key, v.lastKey)
			}
		}
	}
	v.state = stateInPartition
	v.sawStatic = false
	v.sawElements = false
	v.havePos = false
	v.openTombstone = base.Tombstone{}
	v.havePrevPartition = true
	v.lastToken = ps.Token
	v.lastKey = append(v.lastKey[:0], ps.Key...)
	return base.Continue, nil
}

func (v *Validator) ConsumeStaticRow(ctx context.Context, sr *base.StaticRow) (base.Continuation, error) {
	if v.state != stateInPartition {
		v.report("static row outside partition")
		v.abortSSTable = true
		return base.Stop, nil
	}
	if v.sawStatic {
		v.report("multiple static rows in one partition")
	}
	if v.sawElements {
		v.report("static row after clustering elements")
	}
	v.sawStatic = true
	return base.Continue, nil
}

func (v *Validator) ConsumeClusteringRow(ctx context.Context, cr *base.ClusteringRow) (base.Continuation, error) {
	if v.state != stateInPartition {
		v.report("clustering row outside partition")
		v.abortSSTable = true
		return base.Stop, nil
	}
	v.sawElements = true
	if v.level >= ClusteringKey {
		pos := cr.Position()
		if v.havePos {
			c, err := v.schema.ComparePositions(pos, v.lastPos)
			if err != nil {
				return base.Stop, err
			}
			if c < 0 || (c == 0 && v.lastWasRow) {
				v.report("out of order clustering row: %s after %s", pos, v.lastPos)
			}
		}
		v.havePos = true
		v.lastPos = clonePosition(pos)
		v.lastWasRow = true
	}
	return base.Continue, nil
}

func (v *Validator) ConsumeRangeTombstoneChange(ctx context.Context, rtc *base.RangeTombstoneChange) (base.Continuation, error) {
	if v.state != stateInPartition {
		v.report("range tombstone change outside partition")
		v.abortSSTable = true
		return base.Stop, nil
	}
	v.sawElements = true
	if v.level >= ClusteringKey {
		if rtc.Position.Weight == base.Equal {
			v.report("range tombstone change with equal bound weight at %s", rtc.Position.Key)
		}
		if v.havePos {
			c, err := v.schema.ComparePositions(rtc.Position, v.lastPos)
			if err != nil {
				return base.Stop, err
			}
			if c < 0 {
				v.report("out of order range tombstone change: %s after %s", rtc.Position, v.lastPos)
			}
		}
		v.havePos = true
		v.lastPos = clonePosition(rtc.Position)
		v.lastWasRow = false
		v.openTombstone = rtc.Tombstone
	}
	return base.Continue, nil
}

func (v *Validator) ConsumePartitionEnd(ctx context.Context) (base.Continuation, error) {
	if v.abortSSTable {
		// This is the synthetic partition end following the scope error;
		// stop the rest of the sstable.
		v.state = statePartitionEnded
		return base.Stop, nil
	}
	if v.state != stateInPartition {
		v.report("partition end outside partition")
		return base.Stop, nil
	}
	if v.level >= ClusteringKey && !v.openTombstone.IsEmpty() {
		v.report("unclosed range tombstone at partition end")
		v.openTombstone = base.Tombstone{}
	}
	v.state = statePartitionEnded
	return base.Continue, nil
}

func (v *Validator) EndOfSSTable(ctx context.Context) (base.Continuation, error) {
	if v.state == stateInPartition {
		v.report("unclosed partition at end of stream")
	}
	name := v.path
	if name == "" {
		name = "the stream"
	}
	verdict := "valid"
	if v.sstableErrors > 0 {
		verdict = "invalid"
		v.invalid++
	}
	v.sstables++
	v.Results = append(v.Results, Result{Path: name, Errors: v.sstableErrors})
	v.logger.Infof("validated %s: %s", name, verdict)
	return base.Continue, nil
}

func (v *Validator) EndOfStream(ctx context.Context) error {
	v.logger.Infof("validated %d sstable(s), %d invalid, %d error(s) total", v.sstables, v.invalid, v.totalErrors)
	return nil
}

// Observe gates the write path: the fragment passes through the same checks
// as the consumer, but any violation is fatal.
func (v *Validator) Observe(ctx context.Context, f *base.Fragment) error {
	before := v.totalErrors
	if _, err := f.Consume(ctx, v); err != nil {
		return err
	}
	if n := v.totalErrors - before; n > 0 {
		return errors.Newf("invalid fragment stream: %d validation error(s), see diagnostics above", n)
	}
	return nil
}

func clonePosition(p base.Position) base.Position {
	return base.Position{Key: append(base.ClusteringKey(nil), p.Key...), Weight: p.Weight}
}
