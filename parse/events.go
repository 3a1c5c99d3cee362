// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package parse

import (
	"math"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// handle interprets one lexer event in the top state.
func (h *handler) handle(ev event) error {
	switch ev.kind {
	case evNull:
		return h.onNull(ev)
	case evBool:
		return h.onBool(ev)
	case evInt:
		return h.onInt(ev, ev.i)
	case evUint:
		if ev.u > math.MaxInt64 {
			return errors.Newf("integer %d out of range in state %s", ev.u, h.stackString())
		}
		return h.onInt(ev, int64(ev.u))
	case evDouble:
		return h.onDouble(ev)
	case evString:
		return h.onString(ev)
	case evKey:
		return h.onKey(ev)
	case evStartObject:
		return h.onStartObject(ev)
	case evEndObject:
		return h.onEndObject(ev)
	case evStartArray:
		return h.onStartArray(ev)
	case evEndArray:
		return h.onEndArray(ev)
	case evEOF:
		if len(h.stack) != 1 || h.top(0) != stateStart {
			return errors.Newf("unexpected end of input in state %s", h.stackString())
		}
		return nil
	}
	return errors.AssertionFailedf("unhandled lexer event %s", ev.kind)
}

func (h *handler) onNull(ev event) error {
	if h.top(0) == stateBeforeIgnoredValue {
		return h.pop()
	}
	return h.unexpected(ev)
}

func (h *handler) onBool(ev event) error {
	if h.top(0) == stateBeforeBool {
		h.boolVal, h.boolSet = ev.b, true
		return h.pop()
	}
	return h.unexpected(ev)
}

func (h *handler) onInt(ev event, v int64) error {
	switch h.top(0) {
	case stateBeforeIgnoredValue:
		return h.pop()
	case stateBeforeInteger:
		h.intVal, h.intSet = v, true
		return h.pop()
	case stateBeforeString:
		// Fields that usually carry the date form also accept raw epoch
		// seconds; the retire action parses the decimal rendering.
		switch h.key {
		case "deletion_time", "expiry":
			h.strVal, h.strSet = strconv.FormatInt(v, 10), true
			return h.pop()
		}
	}
	return h.unexpected(ev)
}

func (h *handler) onDouble(ev event) error {
	if h.top(0) == stateBeforeIgnoredValue {
		return h.pop()
	}
	return h.unexpected(ev)
}

func (h *handler) onString(ev event) error {
	switch h.top(0) {
	case stateBeforeIgnoredValue:
		return h.pop()
	case stateBeforeString:
		h.strVal, h.strSet = ev.s, true
		return h.pop()
	}
	return h.unexpected(ev)
}

func (h *handler) onStartObject(ev event) error {
	switch h.top(0) {
	case stateBeforePartition:
		return h.push(stateInPartition)
	case stateBeforeKey:
		return h.push(stateInKey)
	case stateBeforeTombstone:
		h.tomb = &pendingTombstone{}
		return h.push(stateInTombstone)
	case stateBeforeStaticColumns:
		h.row = &base.Row{}
		return h.push(stateBeforeColumnKey)
	case stateBeforeClusteringElement:
		h.row = &base.Row{}
		return h.push(stateInClusteringElement)
	case stateBeforeMarker:
		return h.push(stateInMarker)
	case stateBeforeClusteringColumns:
		return h.push(stateBeforeColumnKey)
	case stateBeforeColumn:
		return h.push(stateInColumn)
	}
	return h.unexpected(ev)
}

func (h *handler) onKey(ev event) error {
	h.key = ev.s
	switch h.top(0) {
	case stateInPartition:
		switch h.key {
		case "key":
			return h.push(stateBeforeKey)
		case "tombstone":
			return h.push(stateBeforeTombstone)
		case "static_row", "clustering_elements":
			if !h.partitionStartEmitted {
				if err := h.finalizePartitionStart(base.Tombstone{}); err != nil {
					return err
				}
			}
			if h.key == "static_row" {
				return h.push(stateBeforeStaticColumns)
			}
			return h.push(stateBeforeClusteringElements)
		}
		return h.unexpected(ev)
	case stateInKey:
		if h.key == "value" || (h.top(2) == stateInPartition && h.key == "token") {
			return h.push(stateBeforeIgnoredValue)
		}
		if h.key == "raw" {
			return h.push(stateBeforeString)
		}
		return h.unexpected(ev)
	case stateInTombstone:
		switch h.key {
		case "timestamp":
			return h.push(stateBeforeInteger)
		case "deletion_time":
			return h.push(stateBeforeString)
		}
		return h.unexpected(ev)
	case stateInMarker:
		switch h.key {
		case "timestamp":
			return h.push(stateBeforeInteger)
		case "ttl", "expiry":
			return h.push(stateBeforeString)
		}
		return h.unexpected(ev)
	case stateInClusteringElement:
		if h.key == "type" {
			return h.push(stateBeforeString)
		}
		return h.unexpected(ev)
	case stateInRangeTombstoneChange:
		switch h.key {
		case "key":
			return h.push(stateBeforeKey)
		case "weight":
			return h.push(stateBeforeInteger)
		case "tombstone":
			return h.push(stateBeforeTombstone)
		}
		return h.unexpected(ev)
	case stateInClusteringRow:
		switch h.key {
		case "key":
			return h.push(stateBeforeKey)
		case "marker":
			return h.push(stateBeforeMarker)
		case "tombstone":
			return h.push(stateBeforeTombstone)
		case "shadowable_tombstone":
			h.isShadowable = true
			return h.push(stateBeforeTombstone)
		case "columns":
			return h.push(stateBeforeClusteringColumns)
		}
		return h.unexpected(ev)
	case stateBeforeColumnKey:
		return h.resolveColumn()
	case stateInColumn:
		switch h.key {
		case "is_live":
			return h.push(stateBeforeBool)
		case "timestamp":
			return h.push(stateBeforeInteger)
		case "ttl", "expiry", "value", "deletion_time":
			return h.push(stateBeforeString)
		}
		return h.unexpected(ev)
	}
	return h.unexpected(ev)
}

// resolveColumn looks the column up in the kind the enclosing scope
// dictates and rejects the cell kinds the write path does not support.
func (h *handler) resolveColumn() error {
	static := h.top(1) == stateBeforeStaticColumns
	var col *schema.Column
	var ok bool
	if static {
		col, ok = h.schema.StaticColumn(h.key)
	} else {
		col, ok = h.schema.RegularColumn(h.key)
	}
	if !ok {
		kind := "regular"
		if static {
			kind = "static"
		}
		return errors.Newf("failed to look up %s column %s in schema %s", kind, h.key, h.schema.Name())
	}
	if !col.IsAtomic() {
		return errors.Newf("failed to initialize column %s: non-atomic columns are not supported", h.key)
	}
	h.column = &pendingColumn{col: col}
	return h.push(stateBeforeColumn)
}

func (h *handler) onEndObject(ev event) error {
	switch h.top(0) {
	case stateInPartition, stateInKey, stateInTombstone, stateInRangeTombstoneChange,
		stateInClusteringRow, stateBeforeColumnKey, stateInMarker, stateInColumn:
		return h.pop()
	}
	return h.unexpected(ev)
}

func (h *handler) onStartArray(ev event) error {
	switch h.top(0) {
	case stateStart:
		return h.push(stateBeforePartition)
	case stateBeforeClusteringElements:
		return h.push(stateBeforeClusteringElement)
	}
	return h.unexpected(ev)
}

func (h *handler) onEndArray(ev event) error {
	switch h.top(0) {
	case stateBeforeClusteringElement, stateBeforePartition:
		return h.pop()
	}
	return h.unexpected(ev)
}
