// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// encoder appends the primitive wire forms all components are built from:
// uvarints, zigzag varints, and length-prefixed byte strings.
type encoder struct {
	buf []byte
}

func (e *encoder) uvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) varint(v int64) {
	e.buf = binary.AppendVarint(e.buf, v)
}

func (e *encoder) byteVal(v byte) {
	e.buf = append(e.buf, v)
}

func (e *encoder) boolVal(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) bytes(v []byte) {
	e.uvarint(uint64(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *encoder) str(v string) {
	e.uvarint(uint64(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *encoder) double(v float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
}

func (e *encoder) uuidVal(v uuid.UUID) {
	e.buf = append(e.buf, v[:]...)
}

// decoder reads the encoder's wire forms from an io.ByteReader-backed
// stream. Errors carry the failing field name.
type decoder struct {
	r   io.Reader
	br  io.ByteReader
	off int64
}

func newDecoder(r io.Reader) *decoder {
	br, ok := r.(io.ByteReader)
	if !ok {
		panic("decoder needs an io.ByteReader")
	}
	return &decoder{r: r, br: br}
}

// ReadByte adapts the decoder for binary.ReadUvarint while tracking the
// stream offset.
func (d *decoder) ReadByte() (byte, error) {
	b, err := d.br.ReadByte()
	if err == nil {
		d.off++
	}
	return b, err
}

func (d *decoder) Offset() int64 {
	return d.off
}

func (d *decoder) uvarint(field string) (uint64, error) {
	v, err := binary.ReadUvarint(d)
	if err != nil {
		return 0, errors.Wrapf(err, "decoding %s", field)
	}
	return v, nil
}

func (d *decoder) varint(field string) (int64, error) {
	v, err := binary.ReadVarint(d)
	if err != nil {
		return 0, errors.Wrapf(err, "decoding %s", field)
	}
	return v, nil
}

func (d *decoder) byteVal(field string) (byte, error) {
	b, err := d.ReadByte()
	if err != nil {
		return 0, errors.Wrapf(err, "decoding %s", field)
	}
	return b, nil
}

func (d *decoder) boolVal(field string) (bool, error) {
	b, err := d.byteVal(field)
	return b != 0, err
}

func (d *decoder) bytes(field string) ([]byte, error) {
	n, err := d.uvarint(field)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", field)
	}
	d.off += int64(n)
	return buf, nil
}

func (d *decoder) str(field string) (string, error) {
	buf, err := d.bytes(field)
	return string(buf), err
}

func (d *decoder) double(field string) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "decoding %s", field)
	}
	d.off += 8
	return math.Float64frombits(binary.BigEndian.Uint64(buf[:])), nil
}

func (d *decoder) uuidVal(field string) (uuid.UUID, error) {
	var u uuid.UUID
	if _, err := io.ReadFull(d.r, u[:]); err != nil {
		return uuid.UUID{}, errors.Wrapf(err, "decoding %s", field)
	}
	d.off += 16
	return u, nil
}
