// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package parse

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// state is the handler's explicit state alphabet. The grammar bounds the
// stack depth, so the state stack never grows with input size.
type state int8

const (
	stateStart state = iota
	stateBeforePartition
	stateInPartition
	stateBeforeKey
	stateInKey
	stateBeforeTombstone
	stateInTombstone
	stateBeforeStaticColumns
	stateBeforeClusteringElements
	stateBeforeClusteringElement
	stateInClusteringElement
	stateInRangeTombstoneChange
	stateInClusteringRow
	stateBeforeMarker
	stateInMarker
	stateBeforeClusteringColumns
	stateBeforeColumnKey
	stateBeforeColumn
	stateInColumn
	stateBeforeIgnoredValue
	stateBeforeInteger
	stateBeforeString
	stateBeforeBool
)

var stateNames = [...]string{
	stateStart:                    "start",
	stateBeforePartition:          "before_partition",
	stateInPartition:              "in_partition",
	stateBeforeKey:                "before_key",
	stateInKey:                    "in_key",
	stateBeforeTombstone:          "before_tombstone",
	stateInTombstone:              "in_tombstone",
	stateBeforeStaticColumns:      "before_static_columns",
	stateBeforeClusteringElements: "before_clustering_elements",
	stateBeforeClusteringElement:  "before_clustering_element",
	stateInClusteringElement:      "in_clustering_element",
	stateInRangeTombstoneChange:   "in_range_tombstone_change",
	stateInClusteringRow:          "in_clustering_row",
	stateBeforeMarker:             "before_marker",
	stateInMarker:                 "in_marker",
	stateBeforeClusteringColumns:  "before_clustering_columns",
	stateBeforeColumnKey:          "before_column_key",
	stateBeforeColumn:             "before_column",
	stateInColumn:                 "in_column",
	stateBeforeIgnoredValue:       "before_ignored_value",
	stateBeforeInteger:            "before_integer",
	stateBeforeString:             "before_string",
	stateBeforeBool:               "before_bool",
}

func (s state) String() string {
	return stateNames[s]
}

type pendingTombstone struct {
	hasTimestamp bool
	timestamp    int64
	hasDeletion  bool
	deletionTime int64
}

type pendingColumn struct {
	col *schema.Column

	hasLive      bool
	live         bool
	hasTimestamp bool
	timestamp    int64
	hasValue     bool
	value        []byte
	hasDeletion  bool
	deletionTime int64
}

// handler interprets lexer events against the dump grammar and emits
// fragments. All scratch state lives in the struct; the host call stack is
// never used for grammar nesting.
type handler struct {
	schema *schema.Schema
	emit   func(base.Fragment) error

	stack []state
	key   string // key-just-seen

	boolSet bool
	boolVal bool
	intSet  bool
	intVal  int64
	strSet  bool
	strVal  string

	pkeySet   bool
	pkey      base.PartitionKey
	ckeySet   bool
	ckey      base.ClusteringKey
	weightSet bool
	weight    base.BoundWeight

	tomb       *pendingTombstone
	marker     *base.RowMarker
	rowTombSet bool
	rowTomb    base.Tombstone
	shadowSet  bool
	shadowTomb base.Tombstone
	row        *base.Row
	column     *pendingColumn
	ttlSet     bool
	ttl        int64
	expirySet  bool
	expiry     int64

	isShadowable          bool
	partitionStartEmitted bool
	eos                   bool

	// pendingElementState carries the clustering element type chosen by the
	// "type" value out of the retire action: the generic element state is
	// replaced by the typed one once the value retires.
	pendingElementState state
}

func newHandler(s *schema.Schema, emit func(base.Fragment) error) *handler {
	h := &handler{schema: s, emit: emit}
	h.push(stateStart)
	return h
}

func (h *handler) top(i int) state {
	return h.stack[len(h.stack)-1-i]
}

func (h *handler) depth() int {
	return len(h.stack)
}

func (h *handler) push(s state) error {
	h.stack = append(h.stack, s)
	return nil
}

func (h *handler) stackString() string {
	names := make([]string, 0, len(h.stack))
	for i := len(h.stack) - 1; i >= 0; i-- {
		names = append(names, h.stack[i].String())
	}
	return strings.Join(names, "|")
}

func (h *handler) unexpected(ev event) error {
	if ev.kind == evKey {
		return errors.Newf("unexpected json event %s(%s) in state %s", ev.kind, ev.s, h.stackString())
	}
	return errors.Newf("unexpected json event %s in state %s", ev.kind, h.stackString())
}

// pop retires the top state, runs its retire action, and pops as many
// states as the action dictates.
func (h *handler) pop() error {
	popStates := 1
	switch h.top(0) {
	case stateBeforePartition:
		h.eos = true
	case stateInPartition:
		if err := h.finalizePartition(); err != nil {
			return err
		}
	case stateInKey:
		popStates = 2
	case stateInTombstone:
		popStates = 2
		isShadowable := h.isShadowable
		h.isShadowable = false
		tomb, err := h.takeTombstone()
		if err != nil {
			return err
		}
		switch h.top(2) {
		case stateInPartition:
			if err := h.finalizePartitionStart(tomb); err != nil {
				return err
			}
		case stateInRangeTombstoneChange:
			h.rowTomb, h.rowTombSet = tomb, true
		case stateInClusteringRow:
			if isShadowable {
				h.shadowTomb, h.shadowSet = tomb, true
			} else {
				h.rowTomb, h.rowTombSet = tomb, true
			}
		default:
			return errors.Newf("retiring in_tombstone state in invalid context: %s", h.stackString())
		}
	case stateInMarker:
		popStates = 2
		if err := h.finalizeMarker(); err != nil {
			return err
		}
	case stateInColumn:
		popStates = 2
		if err := h.finalizeColumn(); err != nil {
			return err
		}
	case stateBeforeColumnKey:
		if h.top(1) == stateBeforeStaticColumns {
			if err := h.finalizeStaticRow(); err != nil {
				return err
			}
		}
		popStates = 2
	case stateBeforeClusteringElement:
		popStates = 2
	case stateInRangeTombstoneChange:
		popStates = 2
		if err := h.finalizeRangeTombstoneChange(); err != nil {
			return err
		}
	case stateInClusteringRow:
		popStates = 2
		if err := h.finalizeClusteringRow(); err != nil {
			return err
		}
	case stateBeforeIgnoredValue:
	case stateBeforeBool:
		if h.top(1) == stateInColumn {
			h.column.live, h.column.hasLive = h.boolVal, true
		}
		h.boolSet = false
	case stateBeforeInteger:
		switch h.top(1) {
		case stateInTombstone:
			h.tomb.timestamp, h.tomb.hasTimestamp = h.intVal, true
		case stateInRangeTombstoneChange:
			if err := h.parseBoundWeight(); err != nil {
				return err
			}
		case stateInColumn:
			h.column.timestamp, h.column.hasTimestamp = h.intVal, true
		case stateInMarker:
			h.marker = &base.RowMarker{Timestamp: h.intVal}
		}
		h.intSet = false
	case stateBeforeString:
		if err := h.retireString(); err != nil {
			return err
		}
		h.strSet = false
	default:
		return errors.Newf("attempted to retire unexpected state %s (%s)", h.top(0), h.stackString())
	}
	h.stack = h.stack[:len(h.stack)-popStates]
	if h.pendingElementState != stateStart {
		s := h.pendingElementState
		h.pendingElementState = stateStart
		return h.push(s)
	}
	return nil
}

func (h *handler) retireString() error {
	switch h.top(1) {
	case stateInKey:
		if h.depth() >= 4 {
			switch h.top(3) {
			case stateInPartition:
				return h.parsePartitionKey()
			case stateInClusteringRow, stateInRangeTombstoneChange:
				return h.parseClusteringKey()
			}
		}
		return errors.Newf("retiring in_key string in invalid context: %s", h.stackString())
	case stateInTombstone:
		return h.parseDeletionTime()
	case stateInMarker:
		if h.key == "ttl" {
			return h.parseTTL()
		}
		return h.parseExpiry()
	case stateInClusteringElement:
		switch h.strVal {
		case "clustering-row":
			h.pendingElementState = stateInClusteringRow
		case "range-tombstone-change":
			h.pendingElementState = stateInRangeTombstoneChange
		default:
			return errors.Newf("invalid clustering element type: %s, expected clustering-row or range-tombstone-change", h.strVal)
		}
	case stateInColumn:
		switch h.key {
		case "ttl":
			return h.parseTTL()
		case "expiry":
			return h.parseExpiry()
		case "deletion_time":
			return h.parseDeletionTime()
		default:
			return h.parseColumnValue()
		}
	}
	return nil
}

func (h *handler) parsePartitionKey() error {
	raw, err := hex.DecodeString(h.strVal)
	if err != nil {
		return errors.Wrap(err, "failed to parse partition key from raw string")
	}
	key := base.PartitionKey(raw)
	if err := h.schema.CheckPartitionKey(key); err != nil {
		return errors.Wrap(err, "failed to parse partition key from raw string")
	}
	h.pkey, h.pkeySet = key, true
	return nil
}

func (h *handler) parseClusteringKey() error {
	raw, err := hex.DecodeString(h.strVal)
	if err != nil {
		return errors.Wrap(err, "failed to parse clustering key from raw string")
	}
	key := base.ClusteringKey(raw)
	if err := h.schema.CheckClusteringKey(key); err != nil {
		return errors.Wrap(err, "failed to parse clustering key from raw string")
	}
	h.ckey, h.ckeySet = key, true
	return nil
}

func (h *handler) parseBoundWeight() error {
	switch h.intVal {
	case -1:
		h.weight, h.weightSet = base.BeforeAll, true
	case 0:
		h.weight, h.weightSet = base.Equal, true
	case 1:
		h.weight, h.weightSet = base.AfterAll, true
	default:
		return errors.Newf("failed to parse bound weight: %d is not a valid bound weight value", h.intVal)
	}
	return nil
}

// parseDateOrSeconds accepts the dump's date form and the raw epoch-seconds
// integer form.
func parseDateOrSeconds(s string) (int64, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.Unix(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Newf("invalid time %q, want YYYY-MM-DD HH:MM:SS or seconds since the epoch", s)
	}
	return n, nil
}

func (h *handler) parseDeletionTime() error {
	dt, err := parseDateOrSeconds(h.strVal)
	if err != nil {
		return errors.Wrap(err, "failed to parse deletion_time")
	}
	if h.top(1) == stateInColumn {
		h.column.deletionTime, h.column.hasDeletion = dt, true
	} else {
		h.tomb.deletionTime, h.tomb.hasDeletion = dt, true
	}
	return nil
}

// parseTTL accepts the seconds value with or without the trailing unit
// suffix; the dump always writes the suffix.
func (h *handler) parseTTL() error {
	s := strings.TrimSuffix(h.strVal, "s")
	ttl, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ttl < 0 {
		return errors.Newf("failed to parse ttl value of %q", h.strVal)
	}
	h.ttl, h.ttlSet = ttl, true
	return nil
}

func (h *handler) parseExpiry() error {
	exp, err := parseDateOrSeconds(h.strVal)
	if err != nil {
		return errors.Wrap(err, "failed to parse expiry")
	}
	h.expiry, h.expirySet = exp, true
	return nil
}

func (h *handler) parseColumnValue() error {
	v, err := h.column.col.Type.Parse(h.strVal)
	if err != nil {
		return errors.Wrapf(err, "failed to parse cell value of column %s", h.column.col.Name)
	}
	h.column.value, h.column.hasValue = v, true
	return nil
}

func (h *handler) takeTombstone() (base.Tombstone, error) {
	t := h.tomb
	h.tomb = nil
	if t.hasTimestamp != t.hasDeletion {
		return base.Tombstone{}, errors.New("incomplete tombstone: timestamp and deletion_time have to be either both present or both missing")
	}
	if !t.hasTimestamp {
		return base.Tombstone{}, nil
	}
	return base.Tombstone{Timestamp: t.timestamp, DeletionTime: t.deletionTime}, nil
}

func (h *handler) finalizePartitionStart(tomb base.Tombstone) error {
	if !h.pkeySet {
		return errors.New("failed to finalize partition start: no partition key")
	}
	key := h.pkey
	h.pkey, h.pkeySet = nil, false
	h.partitionStartEmitted = true
	return h.emit(base.MakePartitionStart(&base.PartitionStart{
		Key:       key,
		Token:     h.schema.Token(key),
		Tombstone: tomb,
	}))
}

func (h *handler) finalizeStaticRow() error {
	if h.row == nil {
		return errors.New("failed to finalize static row: row is not initialized yet")
	}
	row := h.row
	h.row = nil
	return h.emit(base.MakeStaticRow(&base.StaticRow{Cells: *row}))
}

func (h *handler) finalizeMarker() error {
	if h.marker == nil {
		return errors.New("failed to finalize row marker: it has no timestamp")
	}
	if h.ttlSet != h.expirySet {
		return errors.New("failed to finalize row marker: ttl and expiry must either be both present or both missing")
	}
	if h.ttlSet {
		h.marker.HasTTL = true
		h.marker.TTL = h.ttl
		h.marker.Expiry = h.expiry
		h.ttlSet, h.expirySet = false, false
	}
	return nil
}

func (h *handler) finalizeColumn() error {
	if h.row == nil {
		return errors.New("failed to finalize cell: row not initialized yet")
	}
	c := h.column
	h.column = nil
	if !c.hasLive || !c.hasTimestamp {
		return errors.New("failed to finalize cell: required fields is_live and/or timestamp missing")
	}
	if c.live && !c.hasValue {
		return errors.New("failed to finalize cell: live cell doesn't have data")
	}
	if !c.live && !c.hasDeletion {
		return errors.New("failed to finalize cell: dead cell doesn't have deletion time")
	}
	if h.ttlSet != h.expirySet {
		return errors.New("failed to finalize cell: ttl and expiry must either be both present or both missing")
	}
	var cell base.Cell
	switch {
	case c.live && h.ttlSet:
		cell = base.MakeExpiringCell(c.timestamp, c.value, h.ttl, h.expiry)
		h.ttlSet, h.expirySet = false, false
	case c.live:
		cell = base.MakeLiveCell(c.timestamp, c.value)
	default:
		cell = base.MakeDeadCell(c.timestamp, c.deletionTime)
	}
	h.row.Set(c.col.ID, cell)
	return nil
}

func (h *handler) finalizeClusteringRow() error {
	if !h.ckeySet {
		return errors.New("failed to finalize clustering row: missing clustering key")
	}
	if h.row == nil {
		return errors.New("failed to finalize clustering row: row is not initialized yet")
	}
	cr := &base.ClusteringRow{
		Key:   h.ckey,
		Cells: *h.row,
	}
	h.ckey, h.ckeySet = nil, false
	h.row = nil
	if h.rowTombSet {
		cr.Tombstone = h.rowTomb
		h.rowTombSet = false
		h.rowTomb = base.Tombstone{}
	}
	if h.shadowSet {
		cr.Shadowable = h.shadowTomb
		h.shadowSet = false
		h.shadowTomb = base.Tombstone{}
	}
	cr.Marker = h.marker
	h.marker = nil
	return h.emit(base.MakeClusteringRow(cr))
}

func (h *handler) finalizeRangeTombstoneChange() error {
	if !h.weightSet {
		return errors.New("failed to finalize range tombstone change: missing bound weight")
	}
	if h.weight == base.Equal {
		return errors.New("failed to finalize range tombstone change: equal is not a valid bound weight for range tombstone changes")
	}
	if !h.rowTombSet {
		return errors.New("failed to finalize range tombstone change: missing tombstone")
	}
	rtc := &base.RangeTombstoneChange{
		Position:  base.Position{Weight: h.weight},
		Tombstone: h.rowTomb,
	}
	if h.ckeySet {
		rtc.Position.Key = h.ckey
		h.ckey, h.ckeySet = nil, false
	}
	h.weightSet = false
	h.rowTombSet = false
	h.rowTomb = base.Tombstone{}
	return h.emit(base.MakeRangeTombstoneChange(rtc))
}

func (h *handler) finalizePartition() error {
	if !h.partitionStartEmitted {
		// A partition holding only a key still starts and ends.
		if err := h.finalizePartitionStart(base.Tombstone{}); err != nil {
			return err
		}
	}
	h.partitionStartEmitted = false
	return h.emit(base.MakePartitionEnd())
}
