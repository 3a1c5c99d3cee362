// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Token is the 64-bit hash a partition key decorates to. Partitions are
// ordered by token first, raw key bytes second.
type Token int64

// PartitionKey is the serialized composite form of a partition key: for each
// component a big-endian uint16 length followed by the component bytes.
type PartitionKey []byte

// ClusteringKey is the serialized composite form of a clustering key prefix.
// It uses the same component encoding as PartitionKey and may hold fewer
// components than the schema declares.
type ClusteringKey []byte

func (k PartitionKey) String() string {
	return hex.EncodeToString(k)
}

func (k ClusteringKey) String() string {
	return hex.EncodeToString(k)
}

// EncodeComponents serializes key components into the composite form shared
// by partition and clustering keys.
func EncodeComponents(components [][]byte) []byte {
	n := 0
	for _, c := range components {
		n += 2 + len(c)
	}
	buf := make([]byte, 0, n)
	for _, c := range components {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(c)))
		buf = append(buf, c...)
	}
	return buf
}

// DecodeComponents splits a composite key back into its components.
func DecodeComponents(raw []byte) ([][]byte, error) {
	var components [][]byte
	for len(raw) > 0 {
		if len(raw) < 2 {
			return nil, errors.Newf("truncated composite key: %q", hex.EncodeToString(raw))
		}
		n := int(binary.BigEndian.Uint16(raw))
		raw = raw[2:]
		if len(raw) < n {
			return nil, errors.Newf("truncated composite key component: want %d bytes, have %d", n, len(raw))
		}
		components = append(components, raw[:n:n])
		raw = raw[n:]
	}
	return components, nil
}

// BoundWeight orders a clustering position relative to the rows sharing its
// prefix: before all of them, at a row proper, or after all of them.
type BoundWeight int8

const (
	BeforeAll BoundWeight = -1
	Equal     BoundWeight = 0
	AfterAll  BoundWeight = 1
)

func (w BoundWeight) String() string {
	switch w {
	case BeforeAll:
		return "before-all"
	case Equal:
		return "equal"
	case AfterAll:
		return "after-all"
	}
	return fmt.Sprintf("BoundWeight(%d)", int8(w))
}

// Position is a point in the clustering order of a partition. Rows sit at
// weight Equal with their full key; range tombstone change bounds use
// BeforeAll/AfterAll, possibly with a shortened key prefix.
type Position struct {
	Key    ClusteringKey
	Weight BoundWeight
}

// RowPosition is the position of the clustering row with the given key.
func RowPosition(key ClusteringKey) Position {
	return Position{Key: key, Weight: Equal}
}

func (p Position) String() string {
	return fmt.Sprintf("{%s, %s}", p.Key, p.Weight)
}
