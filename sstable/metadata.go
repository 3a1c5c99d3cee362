// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/colstore/sstool/internal/base"
)

// CompressionInfo describes the chunked compression of the Data component.
// Offsets are the physical start offsets of each chunk; DataLen is the total
// uncompressed length. Every chunk except the last holds exactly ChunkLen
// uncompressed bytes.
type CompressionInfo struct {
	Name     string
	Options  map[string]string
	ChunkLen uint32
	DataLen  uint64
	Offsets  []uint64
}

// ChunkFor maps an uncompressed position to its chunk index and the offset
// to discard within the decompressed chunk.
func (ci *CompressionInfo) ChunkFor(pos uint64) (chunk int, skip uint64) {
	return int(pos / uint64(ci.ChunkLen)), pos % uint64(ci.ChunkLen)
}

// IndexEntry locates one partition in the uncompressed data stream.
type IndexEntry struct {
	Key      base.PartitionKey
	Position uint64
}

// SummaryHeader mirrors the fixed-field head of the Summary component.
type SummaryHeader struct {
	MinIndexInterval   uint64
	Size               uint64
	MemorySize         uint64
	SamplingLevel      uint64
	SizeAtFullSampling uint64
}

// SummaryEntry is one sampled index entry.
type SummaryEntry struct {
	Key      base.PartitionKey
	Token    base.Token
	Position uint64
}

// Summary is the sampled index of the Index component.
type Summary struct {
	Header    SummaryHeader
	Positions []uint64
	Entries   []SummaryEntry
	FirstKey  base.PartitionKey
	LastKey   base.PartitionKey
}

// ValidationMetadata names the partitioner the data was written with.
type ValidationMetadata struct {
	Partitioner  string
	FilterChance float64
}

// CompactionMetadata carries the cardinality estimator state.
type CompactionMetadata struct {
	Cardinality []uint64
}

// HistogramBucket is one bucket of an estimated histogram.
type HistogramBucket struct {
	Offset int64
	Value  int64
}

// StatsMetadata aggregates write statistics over the sstable.
type StatsMetadata struct {
	EstimatedPartitionSize []HistogramBucket
	MinTimestamp           int64
	MaxTimestamp           int64
	MinDeletionTime        int64
	MaxDeletionTime        int64
	MinTTL                 int64
	MaxTTL                 int64
	CompressionRatio       float64
	SSTableLevel           uint32
	RepairedAt             uint64
	ColumnsCount           int64
	RowsCount              int64
	OriginatingHostID      uuid.UUID
}

// ColumnDesc names one column in the serialization header.
type ColumnDesc struct {
	Name     string
	TypeName string
}

// SerializationHeader records the schema shape the data was serialized
// under.
type SerializationHeader struct {
	PKTypeName              string
	ClusteringKeyTypesNames []string
	StaticColumns           []ColumnDesc
	RegularColumns          []ColumnDesc
}

// statisticsSection tags the Statistics component sections.
type statisticsSection byte

const (
	sectionValidation statisticsSection = 1 + iota
	sectionCompaction
	sectionStats
	sectionSerialization
)

// StatisticsSectionName maps a section to its dump name.
func StatisticsSectionName(s byte) string {
	switch statisticsSection(s) {
	case sectionValidation:
		return "validation"
	case sectionCompaction:
		return "compaction"
	case sectionStats:
		return "stats"
	case sectionSerialization:
		return "serialization_header"
	}
	return "unknown"
}

// StatisticsOffset is one entry of the Statistics offsets directory.
type StatisticsOffset struct {
	Section byte
	Offset  uint64
}

// Statistics is the Statistics component: an offsets directory followed by
// the four metadata sections.
type Statistics struct {
	Offsets             []StatisticsOffset
	Validation          ValidationMetadata
	Compaction          CompactionMetadata
	Stats               StatsMetadata
	SerializationHeader SerializationHeader
}

// metadataTag discriminates the Metadata component's tagged union entries.
type metadataTag byte

const (
	tagFeatures metadataTag = 1 + iota
	tagExtensionAttributes
	tagRunIdentifier
	tagLargeDataStats
	tagOrigin
)

// FeaturesMetadata is the format feature mask with decoded names.
type FeaturesMetadata struct {
	Mask  uint64
	Names []string
}

// LargeDataStats records one large-data threshold counter.
type LargeDataStats struct {
	MaxValue       uint64
	Threshold      uint64
	AboveThreshold uint32
}

// LargeDataKinds is the dump order of the large-data counters.
var LargeDataKinds = []string{"partition_size", "row_size", "cell_size", "rows_in_partition"}

// Metadata is the store-specific metadata component, a sequence of tagged
// union entries. Nil/empty members were absent from the file.
type Metadata struct {
	Features            *FeaturesMetadata
	ExtensionAttributes map[string]string
	RunIdentifier       *uuid.UUID
	LargeDataStats      map[string]LargeDataStats
	Origin              string
}

func encodeCompressionInfo(ci *CompressionInfo) []byte {
	var e encoder
	e.str(ci.Name)
	keys := make([]string, 0, len(ci.Options))
	for k := range ci.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.uvarint(uint64(len(keys)))
	for _, k := range keys {
		e.str(k)
		e.str(ci.Options[k])
	}
	e.uvarint(uint64(ci.ChunkLen))
	e.uvarint(ci.DataLen)
	e.uvarint(uint64(len(ci.Offsets)))
	for _, off := range ci.Offsets {
		e.uvarint(off)
	}
	return e.buf
}

func decodeCompressionInfo(buf []byte) (*CompressionInfo, error) {
	d := newDecoder(bytes.NewReader(buf))
	ci := &CompressionInfo{}
	var err error
	if ci.Name, err = d.str("compression name"); err != nil {
		return nil, err
	}
	n, err := d.uvarint("compression option count")
	if err != nil {
		return nil, err
	}
	ci.Options = make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := d.str("compression option key")
		if err != nil {
			return nil, err
		}
		v, err := d.str("compression option value")
		if err != nil {
			return nil, err
		}
		ci.Options[k] = v
	}
	chunkLen, err := d.uvarint("chunk_len")
	if err != nil {
		return nil, err
	}
	ci.ChunkLen = uint32(chunkLen)
	if ci.ChunkLen == 0 {
		return nil, errors.New("compression info declares zero chunk_len")
	}
	if ci.DataLen, err = d.uvarint("data_len"); err != nil {
		return nil, err
	}
	cnt, err := d.uvarint("offset count")
	if err != nil {
		return nil, err
	}
	ci.Offsets = make([]uint64, cnt)
	for i := range ci.Offsets {
		if ci.Offsets[i], err = d.uvarint("chunk offset"); err != nil {
			return nil, err
		}
	}
	return ci, nil
}

func encodeIndex(entries []IndexEntry) []byte {
	var e encoder
	for _, ent := range entries {
		e.bytes(ent.Key)
		e.uvarint(ent.Position)
	}
	return e.buf
}

func decodeIndex(buf []byte) ([]IndexEntry, error) {
	d := newDecoder(bytes.NewReader(buf))
	var entries []IndexEntry
	for d.Offset() < int64(len(buf)) {
		key, err := d.bytes("index key")
		if err != nil {
			return nil, err
		}
		pos, err := d.uvarint("index position")
		if err != nil {
			return nil, err
		}
		entries = append(entries, IndexEntry{Key: base.PartitionKey(key), Position: pos})
	}
	return entries, nil
}

func encodeSummary(s *Summary) []byte {
	var e encoder
	e.uvarint(s.Header.MinIndexInterval)
	e.uvarint(s.Header.Size)
	e.uvarint(s.Header.MemorySize)
	e.uvarint(s.Header.SamplingLevel)
	e.uvarint(s.Header.SizeAtFullSampling)
	e.uvarint(uint64(len(s.Positions)))
	for _, p := range s.Positions {
		e.uvarint(p)
	}
	e.uvarint(uint64(len(s.Entries)))
	for _, ent := range s.Entries {
		e.bytes(ent.Key)
		e.varint(int64(ent.Token))
		e.uvarint(ent.Position)
	}
	e.bytes(s.FirstKey)
	e.bytes(s.LastKey)
	return e.buf
}

func decodeSummary(buf []byte) (*Summary, error) {
	d := newDecoder(bytes.NewReader(buf))
	s := &Summary{}
	var err error
	for _, f := range []struct {
		name string
		dst  *uint64
	}{
		{"min_index_interval", &s.Header.MinIndexInterval},
		{"size", &s.Header.Size},
		{"memory_size", &s.Header.MemorySize},
		{"sampling_level", &s.Header.SamplingLevel},
		{"size_at_full_sampling", &s.Header.SizeAtFullSampling},
	} {
		if *f.dst, err = d.uvarint(f.name); err != nil {
			return nil, err
		}
	}
	n, err := d.uvarint("summary position count")
	if err != nil {
		return nil, err
	}
	s.Positions = make([]uint64, n)
	for i := range s.Positions {
		if s.Positions[i], err = d.uvarint("summary position"); err != nil {
			return nil, err
		}
	}
	if n, err = d.uvarint("summary entry count"); err != nil {
		return nil, err
	}
	s.Entries = make([]SummaryEntry, n)
	for i := range s.Entries {
		key, err := d.bytes("summary entry key")
		if err != nil {
			return nil, err
		}
		tok, err := d.varint("summary entry token")
		if err != nil {
			return nil, err
		}
		pos, err := d.uvarint("summary entry position")
		if err != nil {
			return nil, err
		}
		s.Entries[i] = SummaryEntry{Key: base.PartitionKey(key), Token: base.Token(tok), Position: pos}
	}
	first, err := d.bytes("summary first key")
	if err != nil {
		return nil, err
	}
	last, err := d.bytes("summary last key")
	if err != nil {
		return nil, err
	}
	s.FirstKey, s.LastKey = base.PartitionKey(first), base.PartitionKey(last)
	return s, nil
}

func encodeStatistics(s *Statistics) []byte {
	sections := []struct {
		section statisticsSection
		encode  func(*encoder)
	}{
		{sectionValidation, func(e *encoder) {
			e.str(s.Validation.Partitioner)
			e.double(s.Validation.FilterChance)
		}},
		{sectionCompaction, func(e *encoder) {
			e.uvarint(uint64(len(s.Compaction.Cardinality)))
			for _, c := range s.Compaction.Cardinality {
				e.uvarint(c)
			}
		}},
		{sectionStats, func(e *encoder) {
			e.uvarint(uint64(len(s.Stats.EstimatedPartitionSize)))
			for _, b := range s.Stats.EstimatedPartitionSize {
				e.varint(b.Offset)
				e.varint(b.Value)
			}
			e.varint(s.Stats.MinTimestamp)
			e.varint(s.Stats.MaxTimestamp)
			e.varint(s.Stats.MinDeletionTime)
			e.varint(s.Stats.MaxDeletionTime)
			e.varint(s.Stats.MinTTL)
			e.varint(s.Stats.MaxTTL)
			e.double(s.Stats.CompressionRatio)
			e.uvarint(uint64(s.Stats.SSTableLevel))
			e.uvarint(s.Stats.RepairedAt)
			e.varint(s.Stats.ColumnsCount)
			e.varint(s.Stats.RowsCount)
			e.uuidVal(s.Stats.OriginatingHostID)
		}},
		{sectionSerialization, func(e *encoder) {
			e.str(s.SerializationHeader.PKTypeName)
			e.uvarint(uint64(len(s.SerializationHeader.ClusteringKeyTypesNames)))
			for _, t := range s.SerializationHeader.ClusteringKeyTypesNames {
				e.str(t)
			}
			for _, cols := range [][]ColumnDesc{s.SerializationHeader.StaticColumns, s.SerializationHeader.RegularColumns} {
				e.uvarint(uint64(len(cols)))
				for _, c := range cols {
					e.str(c.Name)
					e.str(c.TypeName)
				}
			}
		}},
	}

	// Encode the sections first so the offsets directory can point into the
	// section area, whose offsets are relative to its start.
	var body encoder
	offsets := make([]StatisticsOffset, 0, len(sections))
	for _, sec := range sections {
		offsets = append(offsets, StatisticsOffset{Section: byte(sec.section), Offset: uint64(len(body.buf))})
		sec.encode(&body)
	}
	var e encoder
	e.uvarint(uint64(len(offsets)))
	for _, off := range offsets {
		e.byteVal(off.Section)
		e.uvarint(off.Offset)
	}
	e.buf = append(e.buf, body.buf...)
	return e.buf
}

func decodeStatistics(buf []byte) (*Statistics, error) {
	d := newDecoder(bytes.NewReader(buf))
	s := &Statistics{}
	n, err := d.uvarint("statistics offset count")
	if err != nil {
		return nil, err
	}
	s.Offsets = make([]StatisticsOffset, n)
	for i := range s.Offsets {
		if s.Offsets[i].Section, err = d.byteVal("statistics section tag"); err != nil {
			return nil, err
		}
		if s.Offsets[i].Offset, err = d.uvarint("statistics section offset"); err != nil {
			return nil, err
		}
	}
	for _, off := range s.Offsets {
		switch statisticsSection(off.Section) {
		case sectionValidation:
			if s.Validation.Partitioner, err = d.str("partitioner"); err != nil {
				return nil, err
			}
			if s.Validation.FilterChance, err = d.double("filter_chance"); err != nil {
				return nil, err
			}
		case sectionCompaction:
			cnt, err := d.uvarint("cardinality count")
			if err != nil {
				return nil, err
			}
			s.Compaction.Cardinality = make([]uint64, cnt)
			for i := range s.Compaction.Cardinality {
				if s.Compaction.Cardinality[i], err = d.uvarint("cardinality"); err != nil {
					return nil, err
				}
			}
		case sectionStats:
			cnt, err := d.uvarint("estimated_partition_size count")
			if err != nil {
				return nil, err
			}
			s.Stats.EstimatedPartitionSize = make([]HistogramBucket, cnt)
			for i := range s.Stats.EstimatedPartitionSize {
				if s.Stats.EstimatedPartitionSize[i].Offset, err = d.varint("histogram offset"); err != nil {
					return nil, err
				}
				if s.Stats.EstimatedPartitionSize[i].Value, err = d.varint("histogram value"); err != nil {
					return nil, err
				}
			}
			for _, f := range []struct {
				name string
				dst  *int64
			}{
				{"min_timestamp", &s.Stats.MinTimestamp},
				{"max_timestamp", &s.Stats.MaxTimestamp},
				{"min_deletion_time", &s.Stats.MinDeletionTime},
				{"max_deletion_time", &s.Stats.MaxDeletionTime},
				{"min_ttl", &s.Stats.MinTTL},
				{"max_ttl", &s.Stats.MaxTTL},
			} {
				if *f.dst, err = d.varint(f.name); err != nil {
					return nil, err
				}
			}
			if s.Stats.CompressionRatio, err = d.double("compression_ratio"); err != nil {
				return nil, err
			}
			lvl, err := d.uvarint("sstable_level")
			if err != nil {
				return nil, err
			}
			s.Stats.SSTableLevel = uint32(lvl)
			if s.Stats.RepairedAt, err = d.uvarint("repaired_at"); err != nil {
				return nil, err
			}
			if s.Stats.ColumnsCount, err = d.varint("columns_count"); err != nil {
				return nil, err
			}
			if s.Stats.RowsCount, err = d.varint("rows_count"); err != nil {
				return nil, err
			}
			if s.Stats.OriginatingHostID, err = d.uuidVal("originating_host_id"); err != nil {
				return nil, err
			}
		case sectionSerialization:
			if s.SerializationHeader.PKTypeName, err = d.str("pk_type_name"); err != nil {
				return nil, err
			}
			cnt, err := d.uvarint("clustering type count")
			if err != nil {
				return nil, err
			}
			s.SerializationHeader.ClusteringKeyTypesNames = make([]string, cnt)
			for i := range s.SerializationHeader.ClusteringKeyTypesNames {
				if s.SerializationHeader.ClusteringKeyTypesNames[i], err = d.str("clustering type name"); err != nil {
					return nil, err
				}
			}
			for _, dst := range []*[]ColumnDesc{&s.SerializationHeader.StaticColumns, &s.SerializationHeader.RegularColumns} {
				cnt, err := d.uvarint("column desc count")
				if err != nil {
					return nil, err
				}
				*dst = make([]ColumnDesc, cnt)
				for i := range *dst {
					if (*dst)[i].Name, err = d.str("column name"); err != nil {
						return nil, err
					}
					if (*dst)[i].TypeName, err = d.str("column type name"); err != nil {
						return nil, err
					}
				}
			}
		default:
			return nil, errors.Newf("unknown statistics section tag %d", off.Section)
		}
	}
	return s, nil
}

func encodeMetadata(m *Metadata) []byte {
	var e encoder
	if m.Features != nil {
		e.byteVal(byte(tagFeatures))
		e.uvarint(m.Features.Mask)
		e.uvarint(uint64(len(m.Features.Names)))
		for _, n := range m.Features.Names {
			e.str(n)
		}
	}
	if len(m.ExtensionAttributes) > 0 {
		e.byteVal(byte(tagExtensionAttributes))
		keys := make([]string, 0, len(m.ExtensionAttributes))
		for k := range m.ExtensionAttributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.uvarint(uint64(len(keys)))
		for _, k := range keys {
			e.str(k)
			e.str(m.ExtensionAttributes[k])
		}
	}
	if m.RunIdentifier != nil {
		e.byteVal(byte(tagRunIdentifier))
		e.uuidVal(*m.RunIdentifier)
	}
	if len(m.LargeDataStats) > 0 {
		e.byteVal(byte(tagLargeDataStats))
		kinds := make([]string, 0, len(m.LargeDataStats))
		for kind := range m.LargeDataStats {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		e.uvarint(uint64(len(kinds)))
		for _, kind := range kinds {
			stats := m.LargeDataStats[kind]
			e.str(kind)
			e.uvarint(stats.MaxValue)
			e.uvarint(stats.Threshold)
			e.uvarint(uint64(stats.AboveThreshold))
		}
	}
	if m.Origin != "" {
		e.byteVal(byte(tagOrigin))
		e.str(m.Origin)
	}
	return e.buf
}

func decodeMetadata(buf []byte) (*Metadata, error) {
	d := newDecoder(bytes.NewReader(buf))
	m := &Metadata{}
	for d.Offset() < int64(len(buf)) {
		tag, err := d.byteVal("metadata tag")
		if err != nil {
			return nil, err
		}
		switch metadataTag(tag) {
		case tagFeatures:
			f := &FeaturesMetadata{}
			if f.Mask, err = d.uvarint("features mask"); err != nil {
				return nil, err
			}
			n, err := d.uvarint("feature name count")
			if err != nil {
				return nil, err
			}
			f.Names = make([]string, n)
			for i := range f.Names {
				if f.Names[i], err = d.str("feature name"); err != nil {
					return nil, err
				}
			}
			m.Features = f
		case tagExtensionAttributes:
			n, err := d.uvarint("extension attribute count")
			if err != nil {
				return nil, err
			}
			m.ExtensionAttributes = make(map[string]string, n)
			for i := uint64(0); i < n; i++ {
				k, err := d.str("extension attribute key")
				if err != nil {
					return nil, err
				}
				v, err := d.str("extension attribute value")
				if err != nil {
					return nil, err
				}
				m.ExtensionAttributes[k] = v
			}
		case tagRunIdentifier:
			u, err := d.uuidVal("run identifier")
			if err != nil {
				return nil, err
			}
			m.RunIdentifier = &u
		case tagLargeDataStats:
			n, err := d.uvarint("large data stats count")
			if err != nil {
				return nil, err
			}
			m.LargeDataStats = make(map[string]LargeDataStats, n)
			for i := uint64(0); i < n; i++ {
				kind, err := d.str("large data kind")
				if err != nil {
					return nil, err
				}
				var stats LargeDataStats
				if stats.MaxValue, err = d.uvarint("large data max_value"); err != nil {
					return nil, err
				}
				if stats.Threshold, err = d.uvarint("large data threshold"); err != nil {
					return nil, err
				}
				above, err := d.uvarint("large data above_threshold")
				if err != nil {
					return nil, err
				}
				stats.AboveThreshold = uint32(above)
				m.LargeDataStats[kind] = stats
			}
		case tagOrigin:
			if m.Origin, err = d.str("origin"); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Newf("unknown metadata tag %d", tag)
		}
	}
	return m, nil
}
