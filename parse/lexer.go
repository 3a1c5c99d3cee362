// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package parse

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// eventKind enumerates the fixed lexer event set the handler consumes.
type eventKind int8

const (
	evNull eventKind = iota
	evBool
	evInt
	evUint
	evDouble
	evString
	evKey
	evStartObject
	evEndObject
	evStartArray
	evEndArray
	evEOF
)

func (k eventKind) String() string {
	switch k {
	case evNull:
		return "Null"
	case evBool:
		return "Bool"
	case evInt:
		return "Int"
	case evUint:
		return "Uint"
	case evDouble:
		return "Double"
	case evString:
		return "String"
	case evKey:
		return "Key"
	case evStartObject:
		return "StartObject"
	case evEndObject:
		return "EndObject"
	case evStartArray:
		return "StartArray"
	case evEndArray:
		return "EndArray"
	case evEOF:
		return "EndOfInput"
	}
	return "Invalid"
}

type event struct {
	kind eventKind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
}

// lexScope tracks whether the next string inside an object is a key.
type lexScope struct {
	object    bool
	expectKey bool
}

// lexer turns a byte stream into typed JSON events with line and column
// positions. It rides on encoding/json's tokenizer and layers the
// key-versus-value distinction and the int/uint/double split on top. Raw
// numeric handling follows the dump format: integers stay exact, anything
// with a fraction or exponent becomes a double event.
type lexer struct {
	dec   *json.Decoder
	cr    *countingReader
	stack []lexScope
}

func newLexer(r io.Reader) *lexer {
	cr := &countingReader{r: r}
	dec := json.NewDecoder(cr)
	dec.UseNumber()
	return &lexer{dec: dec, cr: cr}
}

// pos returns the 1-based line and column of the byte just consumed.
func (l *lexer) pos() (line, col int64) {
	return l.cr.position(l.dec.InputOffset())
}

// next returns the next event. Errors carry the input position.
func (l *lexer) next() (event, error) {
	tok, err := l.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return event{kind: evEOF}, nil
		}
		line, col := l.pos()
		return event{}, errors.Wrapf(err, "line %d, column %d", line, col)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			l.stack = append(l.stack, lexScope{object: true, expectKey: true})
			return event{kind: evStartObject}, nil
		case '}':
			l.stack = l.stack[:len(l.stack)-1]
			l.noteValue()
			return event{kind: evEndObject}, nil
		case '[':
			l.stack = append(l.stack, lexScope{})
			return event{kind: evStartArray}, nil
		case ']':
			l.stack = l.stack[:len(l.stack)-1]
			l.noteValue()
			return event{kind: evEndArray}, nil
		}
	case string:
		if len(l.stack) > 0 && l.stack[len(l.stack)-1].object && l.stack[len(l.stack)-1].expectKey {
			l.stack[len(l.stack)-1].expectKey = false
			return event{kind: evKey, s: t}, nil
		}
		l.noteValue()
		return event{kind: evString, s: t}, nil
	case bool:
		l.noteValue()
		return event{kind: evBool, b: t}, nil
	case nil:
		l.noteValue()
		return event{kind: evNull}, nil
	case json.Number:
		l.noteValue()
		return l.number(t)
	}
	line, col := l.pos()
	return event{}, errors.Newf("line %d, column %d: unhandled token %v", line, col, tok)
}

func (l *lexer) number(n json.Number) (event, error) {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		f, err := n.Float64()
		if err != nil {
			line, col := l.pos()
			return event{}, errors.Wrapf(err, "line %d, column %d: number %s", line, col, s)
		}
		return event{kind: evDouble, f: f}, nil
	}
	if i, err := n.Int64(); err == nil {
		return event{kind: evInt, i: i}, nil
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		line, col := l.pos()
		return event{}, errors.Newf("line %d, column %d: number %s out of range", line, col, s)
	}
	return event{kind: evUint, u: u}, nil
}

// noteValue marks that a value completed in the enclosing object, so the
// next string there is a key again.
func (l *lexer) noteValue() {
	if len(l.stack) > 0 && l.stack[len(l.stack)-1].object {
		l.stack[len(l.stack)-1].expectKey = true
	}
}

// countingReader records newline offsets so a byte offset maps to a line
// and column. Offsets are queried monotonically, so consumed newline
// records are dropped as the cursor passes them.
type countingReader struct {
	r        io.Reader
	off      int64
	newlines []int64
	line     int64 // newlines fully before the query cursor
	lastLF   int64 // offset just past the last such newline
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	for i := 0; i < n; i++ {
		if p[i] == '\n' {
			c.newlines = append(c.newlines, c.off+int64(i))
		}
	}
	c.off += int64(n)
	return n, err
}

func (c *countingReader) position(off int64) (line, col int64) {
	i := 0
	for ; i < len(c.newlines) && c.newlines[i] < off; i++ {
		c.line++
		c.lastLF = c.newlines[i] + 1
	}
	c.newlines = c.newlines[i:]
	return c.line + 1, off - c.lastLF
}
