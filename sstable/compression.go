// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor compresses and decompresses one chunk at a time. Decompress
// appends to dst and must reproduce exactly the original chunk.
type Compressor interface {
	Name() string
	Compress(dst, src []byte) []byte
	Decompress(dst, src []byte) ([]byte, error)
}

// CompressorByName resolves a compressor named in CompressionInfo or on the
// command line.
func CompressorByName(name string) (Compressor, error) {
	c, ok := compressors[name]
	if !ok {
		return nil, errors.Newf("unknown compressor %q, known: %s", name, strings.Join(compressorNames(), ", "))
	}
	return c, nil
}

var compressors = map[string]Compressor{
	"snappy": snappyCompressor{},
	"lz4":    lz4Compressor{},
	"zstd":   zstdCompressor{},
}

func compressorNames() []string {
	names := make([]string, 0, len(compressors))
	for name := range compressors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type snappyCompressor struct{}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(dst, src []byte) []byte {
	return snappy.Encode(dst, src)
}

func (snappyCompressor) Decompress(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, errors.Wrap(err, "snappy decode")
	}
	return append(dst, out...), nil
}

// lz4Compressor uses the lz4 block format. Blocks do not self-describe
// whether compression took place, so a one-byte marker precedes each chunk:
// 0 for stored, 1 for compressed.
type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "lz4" }

func (lz4Compressor) Compress(dst, src []byte) []byte {
	bound := lz4.CompressBlockBound(len(src)) + 1
	if cap(dst) < bound {
		dst = make([]byte, 0, bound)
	}
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst[1:bound])
	if err != nil || n == 0 {
		out := append(dst[:0], 0)
		return append(out, src...)
	}
	out := dst[:1+n]
	out[0] = 1
	return out
}

func (lz4Compressor) Decompress(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, errors.New("lz4 decode: empty chunk")
	}
	if src[0] == 0 {
		return append(dst, src[1:]...), nil
	}
	size := 4 * len(src)
	for {
		buf := make([]byte, size)
		n, err := lz4.UncompressBlock(src[1:], buf)
		if err == nil {
			return append(dst, buf[:n]...), nil
		}
		if size >= 1<<30 {
			return nil, errors.Wrap(err, "lz4 decode")
		}
		size *= 2
	}
}

type zstdCompressor struct{}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))

func (zstdCompressor) Name() string { return "zstd" }

func (zstdCompressor) Compress(dst, src []byte) []byte {
	return zstdEncoder.EncodeAll(src, dst[:0])
}

func (zstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(src, dst)
	if err != nil {
		return nil, errors.Wrap(err, "zstd decode")
	}
	return out, nil
}
