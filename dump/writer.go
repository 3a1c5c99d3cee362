// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package dump renders fragment streams and sstable metadata as text or as
// the structured JSON document the parser package reads back.
package dump

import (
	"bufio"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// OutputFormat selects between the diagnostic text rendering and the
// round-trippable JSON document.
type OutputFormat int8

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseOutputFormat parses an --output-format value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return 0, errors.Newf("invalid value for option output-format: %s", s)
}

type scopeKind int8

const (
	scopeObject scopeKind = iota
	scopeArray
)

type scope struct {
	kind      scopeKind
	n         int  // values emitted in this scope
	expectVal bool // object scope saw a key, value pending
}

// Writer is a push-style streaming JSON emitter. It never builds a document
// tree; a small scope stack enforces the expect-key / expect-value /
// in-array discipline. A call that arrives out of nesting order is a
// programmer error and panics.
type Writer struct {
	w     *bufio.Writer
	stack []scope
}

// NewWriter wraps out in a streaming JSON writer.
func NewWriter(out io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(out)}
}

// Flush drains the underlying buffer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

func (w *Writer) top() *scope {
	if len(w.stack) == 0 {
		return nil
	}
	return &w.stack[len(w.stack)-1]
}

// beforeValue writes the separator a value needs in the current scope and
// accounts for it.
func (w *Writer) beforeValue() {
	t := w.top()
	if t == nil {
		return
	}
	switch t.kind {
	case scopeObject:
		if !t.expectVal {
			panic(errors.AssertionFailedf("json writer: value in object scope without a key"))
		}
		t.expectVal = false
	case scopeArray:
		if t.n > 0 {
			w.w.WriteByte(',')
		}
	}
	t.n++
}

// Key emits an object key.
func (w *Writer) Key(k string) {
	t := w.top()
	if t == nil || t.kind != scopeObject || t.expectVal {
		panic(errors.AssertionFailedf("json writer: key %q outside object scope", k))
	}
	if t.n > 0 {
		w.w.WriteByte(',')
	}
	t.expectVal = true
	w.writeEscaped(k)
	w.w.WriteByte(':')
}

func (w *Writer) Null() {
	w.beforeValue()
	w.w.WriteString("null")
}

func (w *Writer) Bool(b bool) {
	w.beforeValue()
	w.w.WriteString(strconv.FormatBool(b))
}

func (w *Writer) Int(v int) {
	w.Int64(int64(v))
}

func (w *Writer) Int64(v int64) {
	w.beforeValue()
	w.w.WriteString(strconv.FormatInt(v, 10))
}

func (w *Writer) Uint64(v uint64) {
	w.beforeValue()
	w.w.WriteString(strconv.FormatUint(v, 10))
}

// Double emits a float; NaN has no JSON form and becomes the string "NaN".
func (w *Writer) Double(v float64) {
	if math.IsNaN(v) {
		w.String("NaN")
		return
	}
	w.beforeValue()
	w.w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
}

func (w *Writer) String(s string) {
	w.beforeValue()
	w.writeEscaped(s)
}

func (w *Writer) StartObject() {
	w.beforeValue()
	w.w.WriteByte('{')
	w.stack = append(w.stack, scope{kind: scopeObject})
}

func (w *Writer) EndObject() {
	t := w.top()
	if t == nil || t.kind != scopeObject || t.expectVal {
		panic(errors.AssertionFailedf("json writer: unbalanced EndObject"))
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.w.WriteByte('}')
}

func (w *Writer) StartArray() {
	w.beforeValue()
	w.w.WriteByte('[')
	w.stack = append(w.stack, scope{kind: scopeArray})
}

func (w *Writer) EndArray() {
	t := w.top()
	if t == nil || t.kind != scopeArray {
		panic(errors.AssertionFailedf("json writer: unbalanced EndArray"))
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.w.WriteByte(']')
}

func (w *Writer) writeEscaped(s string) {
	buf, err := json.Marshal(s)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "json writer: escaping string"))
	}
	w.w.Write(buf)
}

// DateString renders seconds since the Unix epoch in the dump's date form.
func DateString(seconds int64) string {
	return time.Unix(seconds, 0).UTC().Format("2006-01-02 15:04:05")
}

// TTLString renders a TTL in seconds with the unit suffix.
func TTLString(ttl int64) string {
	return strconv.FormatInt(ttl, 10) + "s"
}

// StartStream opens the whole-tool root object.
func (w *Writer) StartStream() {
	w.StartObject()
	w.Key("sstables")
	w.StartObject()
}

// EndStream closes the root opened by StartStream.
func (w *Writer) EndStream() {
	w.EndObject()
	w.EndObject()
	w.w.WriteByte('\n')
}

// SSTableKey keys the per-sstable entry; a merged stream has no single
// sstable and dumps under "anonymous".
func (w *Writer) SSTableKey(path string) {
	if path == "" {
		path = "anonymous"
	}
	w.Key(path)
}

// PartitionKey emits the key object of a partition, optionally with its
// token.
func (w *Writer) PartitionKey(s *schema.Schema, key base.PartitionKey, withToken bool) {
	w.StartObject()
	if withToken {
		w.Key("token")
		w.String(strconv.FormatInt(int64(s.Token(key)), 10))
	}
	w.Key("raw")
	w.String(key.String())
	w.Key("value")
	w.String(s.FormatPartitionKey(key))
	w.EndObject()
}

// ClusteringKey emits the key object of a clustering key prefix.
func (w *Writer) ClusteringKey(s *schema.Schema, key base.ClusteringKey) {
	w.StartObject()
	w.Key("raw")
	w.String(key.String())
	w.Key("value")
	w.String(s.FormatClusteringKey(key))
	w.EndObject()
}

// Tombstone emits a tombstone object; the empty tombstone is {}.
func (w *Writer) Tombstone(t base.Tombstone) {
	w.StartObject()
	if !t.IsEmpty() {
		w.Key("timestamp")
		w.Int64(t.Timestamp)
		w.Key("deletion_time")
		w.String(DateString(t.DeletionTime))
	}
	w.EndObject()
}
