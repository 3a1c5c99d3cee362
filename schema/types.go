// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package schema

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Type is the value type of a column. Parse and Format are inverses for
// every valid value; the dump/parse round-trip depends on that.
type Type interface {
	Name() string
	Parse(s string) ([]byte, error)
	Format(v []byte) string
	Compare(a, b []byte) int
}

// TypeByName resolves a type name as used in schema files.
func TypeByName(name string) (Type, error) {
	t, ok := typesByName[name]
	if !ok {
		return nil, errors.Newf("unknown type %q", name)
	}
	return t, nil
}

var typesByName = map[string]Type{
	"ascii":     asciiType{},
	"text":      textType{},
	"blob":      blobType{},
	"boolean":   booleanType{},
	"int":       intType{},
	"bigint":    bigintType{},
	"counter":   counterType{},
	"double":    doubleType{},
	"timestamp": timestampType{},
	"uuid":      uuidType{},
}

type textType struct{}

func (textType) Name() string { return "text" }

func (textType) Parse(s string) ([]byte, error) {
	return []byte(s), nil
}

func (textType) Format(v []byte) string {
	return string(v)
}

func (textType) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

type asciiType struct{}

func (asciiType) Name() string { return "ascii" }

func (asciiType) Parse(s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return nil, errors.Newf("ascii value contains non-ascii byte at offset %d", i)
		}
	}
	return []byte(s), nil
}

func (asciiType) Format(v []byte) string {
	return string(v)
}

func (asciiType) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

type blobType struct{}

func (blobType) Name() string { return "blob" }

func (blobType) Parse(s string) ([]byte, error) {
	v, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid blob literal %q", s)
	}
	return v, nil
}

func (blobType) Format(v []byte) string {
	return hex.EncodeToString(v)
}

func (blobType) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

type booleanType struct{}

func (booleanType) Name() string { return "boolean" }

func (booleanType) Parse(s string) ([]byte, error) {
	switch s {
	case "true":
		return []byte{1}, nil
	case "false":
		return []byte{0}, nil
	}
	return nil, errors.Newf("invalid boolean literal %q", s)
}

func (booleanType) Format(v []byte) string {
	if len(v) == 1 && v[0] != 0 {
		return "true"
	}
	return "false"
}

func (booleanType) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

type intType struct{}

func (intType) Name() string { return "int" }

func (intType) Parse(s string) ([]byte, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid int literal %q", s)
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(int32(n)))
	return buf[:], nil
}

func (intType) Format(v []byte) string {
	if len(v) != 4 {
		return fmt.Sprintf("<invalid int of %d bytes>", len(v))
	}
	return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(v))), 10)
}

func (intType) Compare(a, b []byte) int {
	return compareInt64(int64(int32(binary.BigEndian.Uint32(a))), int64(int32(binary.BigEndian.Uint32(b))))
}

type bigintType struct{}

func (bigintType) Name() string { return "bigint" }

func (bigintType) Parse(s string) ([]byte, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid bigint literal %q", s)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return buf[:], nil
}

func (bigintType) Format(v []byte) string {
	if len(v) != 8 {
		return fmt.Sprintf("<invalid bigint of %d bytes>", len(v))
	}
	return strconv.FormatInt(int64(binary.BigEndian.Uint64(v)), 10)
}

func (bigintType) Compare(a, b []byte) int {
	return compareInt64(int64(binary.BigEndian.Uint64(a)), int64(binary.BigEndian.Uint64(b)))
}

// counterType shares bigint's representation; the stored value is the
// counter's current total. Counter reconciliation happens at the shard
// level, not through Compare.
type counterType struct{ bigintType }

func (counterType) Name() string { return "counter" }

type doubleType struct{}

func (doubleType) Name() string { return "double" }

func (doubleType) Parse(s string) ([]byte, error) {
	if s == "NaN" {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(math.NaN()))
		return buf[:], nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid double literal %q", s)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
	return buf[:], nil
}

func (doubleType) Format(v []byte) string {
	if len(v) != 8 {
		return fmt.Sprintf("<invalid double of %d bytes>", len(v))
	}
	f := math.Float64frombits(binary.BigEndian.Uint64(v))
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (doubleType) Compare(a, b []byte) int {
	fa := math.Float64frombits(binary.BigEndian.Uint64(a))
	fb := math.Float64frombits(binary.BigEndian.Uint64(b))
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

// timestampType stores milliseconds since the Unix epoch and formats them as
// the raw integer. Human date forms are a concern of the dump layer, which
// renders deletion times and expiries itself.
type timestampType struct{}

func (timestampType) Name() string { return "timestamp" }

func (timestampType) Parse(s string) ([]byte, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timestamp literal %q", s)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return buf[:], nil
}

func (timestampType) Format(v []byte) string {
	if len(v) != 8 {
		return fmt.Sprintf("<invalid timestamp of %d bytes>", len(v))
	}
	return strconv.FormatInt(int64(binary.BigEndian.Uint64(v)), 10)
}

func (timestampType) Compare(a, b []byte) int {
	return compareInt64(int64(binary.BigEndian.Uint64(a)), int64(binary.BigEndian.Uint64(b)))
}

type uuidType struct{}

func (uuidType) Name() string { return "uuid" }

func (uuidType) Parse(s string) ([]byte, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid uuid literal %q", s)
	}
	return u[:], nil
}

func (uuidType) Format(v []byte) string {
	u, err := uuid.FromBytes(v)
	if err != nil {
		return fmt.Sprintf("<invalid uuid of %d bytes>", len(v))
	}
	return u.String()
}

func (uuidType) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
