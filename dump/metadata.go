// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package dump

import (
	"sort"

	"github.com/colstore/sstool/schema"
	"github.com/colstore/sstool/sstable"
)

// Index projects the Index component into the structured dump.
func Index(w *Writer, s *schema.Schema, entries []sstable.IndexEntry) {
	w.StartArray()
	for _, ent := range entries {
		w.StartObject()
		w.Key("key")
		w.PartitionKey(s, ent.Key, false)
		w.Key("pos")
		w.Uint64(ent.Position)
		w.EndObject()
	}
	w.EndArray()
}

// CompressionInfo projects the CompressionInfo component. A nil descriptor
// (uncompressed sstable) dumps as an empty object.
func CompressionInfo(w *Writer, ci *sstable.CompressionInfo) {
	w.StartObject()
	if ci == nil {
		w.EndObject()
		return
	}
	w.Key("name")
	w.String(ci.Name)
	w.Key("options")
	w.StartObject()
	for _, k := range sortedKeys(ci.Options) {
		w.Key(k)
		w.String(ci.Options[k])
	}
	w.EndObject()
	w.Key("chunk_len")
	w.Uint64(uint64(ci.ChunkLen))
	w.Key("data_len")
	w.Uint64(ci.DataLen)
	w.Key("offsets")
	w.StartArray()
	for _, off := range ci.Offsets {
		w.Uint64(off)
	}
	w.EndArray()
	w.EndObject()
}

// Summary projects the Summary component.
func Summary(w *Writer, s *schema.Schema, sum *sstable.Summary) {
	w.StartObject()
	w.Key("header")
	w.StartObject()
	w.Key("min_index_interval")
	w.Uint64(sum.Header.MinIndexInterval)
	w.Key("size")
	w.Uint64(sum.Header.Size)
	w.Key("memory_size")
	w.Uint64(sum.Header.MemorySize)
	w.Key("sampling_level")
	w.Uint64(sum.Header.SamplingLevel)
	w.Key("size_at_full_sampling")
	w.Uint64(sum.Header.SizeAtFullSampling)
	w.EndObject()
	w.Key("positions")
	w.StartArray()
	for _, p := range sum.Positions {
		w.Uint64(p)
	}
	w.EndArray()
	w.Key("entries")
	w.StartArray()
	for _, ent := range sum.Entries {
		w.StartObject()
		w.Key("key")
		w.PartitionKey(s, ent.Key, true)
		w.Key("position")
		w.Uint64(ent.Position)
		w.EndObject()
	}
	w.EndArray()
	w.Key("first_key")
	w.PartitionKey(s, sum.FirstKey, false)
	w.Key("last_key")
	w.PartitionKey(s, sum.LastKey, false)
	w.EndObject()
}

// Statistics projects the Statistics component. Timestamps stay raw int64;
// deletion times take the date form; NaN compression ratios dump as "NaN".
func Statistics(w *Writer, st *sstable.Statistics) {
	w.StartObject()
	w.Key("offsets")
	w.StartObject()
	for _, off := range st.Offsets {
		w.Key(sstable.StatisticsSectionName(off.Section))
		w.Uint64(off.Offset)
	}
	w.EndObject()

	w.Key("validation")
	w.StartObject()
	w.Key("partitioner")
	w.String(st.Validation.Partitioner)
	w.Key("filter_chance")
	w.Double(st.Validation.FilterChance)
	w.EndObject()

	w.Key("compaction")
	w.StartObject()
	w.Key("cardinality")
	w.StartArray()
	for _, c := range st.Compaction.Cardinality {
		w.Uint64(c)
	}
	w.EndArray()
	w.EndObject()

	w.Key("stats")
	w.StartObject()
	w.Key("estimated_partition_size")
	w.StartArray()
	for _, b := range st.Stats.EstimatedPartitionSize {
		w.StartObject()
		w.Key("offset")
		w.Int64(b.Offset)
		w.Key("value")
		w.Int64(b.Value)
		w.EndObject()
	}
	w.EndArray()
	w.Key("min_timestamp")
	w.Int64(st.Stats.MinTimestamp)
	w.Key("max_timestamp")
	w.Int64(st.Stats.MaxTimestamp)
	w.Key("min_deletion_time")
	w.String(DateString(st.Stats.MinDeletionTime))
	w.Key("max_deletion_time")
	w.String(DateString(st.Stats.MaxDeletionTime))
	w.Key("min_ttl")
	w.Int64(st.Stats.MinTTL)
	w.Key("max_ttl")
	w.Int64(st.Stats.MaxTTL)
	w.Key("compression_ratio")
	w.Double(st.Stats.CompressionRatio)
	w.Key("sstable_level")
	w.Uint64(uint64(st.Stats.SSTableLevel))
	w.Key("repaired_at")
	w.Uint64(st.Stats.RepairedAt)
	w.Key("columns_count")
	w.Int64(st.Stats.ColumnsCount)
	w.Key("rows_count")
	w.Int64(st.Stats.RowsCount)
	w.Key("originating_host_id")
	w.String(st.Stats.OriginatingHostID.String())
	w.EndObject()

	w.Key("serialization_header")
	w.StartObject()
	w.Key("pk_type_name")
	w.String(st.SerializationHeader.PKTypeName)
	w.Key("clustering_key_types_names")
	w.StartArray()
	for _, t := range st.SerializationHeader.ClusteringKeyTypesNames {
		w.String(t)
	}
	w.EndArray()
	w.Key("static_columns")
	columnDescs(w, st.SerializationHeader.StaticColumns)
	w.Key("regular_columns")
	columnDescs(w, st.SerializationHeader.RegularColumns)
	w.EndObject()

	w.EndObject()
}

func columnDescs(w *Writer, cols []sstable.ColumnDesc) {
	w.StartArray()
	for _, c := range cols {
		w.StartObject()
		w.Key("name")
		w.String(c.Name)
		w.Key("type_name")
		w.String(c.TypeName)
		w.EndObject()
	}
	w.EndArray()
}

// Metadata projects the Metadata component. Each tagged union member dumps
// as exactly one entry named by its active tag.
func Metadata(w *Writer, m *sstable.Metadata) {
	w.StartObject()
	if m.Features != nil {
		w.Key("features")
		w.StartObject()
		w.Key("mask")
		w.Uint64(m.Features.Mask)
		w.Key("features")
		w.StartArray()
		for _, n := range m.Features.Names {
			w.String(n)
		}
		w.EndArray()
		w.EndObject()
	}
	if len(m.ExtensionAttributes) > 0 {
		w.Key("extension_attributes")
		w.StartObject()
		for _, k := range sortedKeys(m.ExtensionAttributes) {
			w.Key(k)
			w.String(m.ExtensionAttributes[k])
		}
		w.EndObject()
	}
	if m.RunIdentifier != nil {
		w.Key("run_identifier")
		w.String(m.RunIdentifier.String())
	}
	if len(m.LargeDataStats) > 0 {
		w.Key("large_data_stats")
		w.StartObject()
		kinds := append([]string(nil), sstable.LargeDataKinds...)
		for k := range m.LargeDataStats {
			known := false
			for _, kk := range sstable.LargeDataKinds {
				if k == kk {
					known = true
					break
				}
			}
			if !known {
				kinds = append(kinds, k)
			}
		}
		for _, kind := range kinds {
			stats, ok := m.LargeDataStats[kind]
			if !ok {
				continue
			}
			w.Key(kind)
			w.StartObject()
			w.Key("max_value")
			w.Uint64(stats.MaxValue)
			w.Key("threshold")
			w.Uint64(stats.Threshold)
			w.Key("above_threshold")
			w.Uint64(uint64(stats.AboveThreshold))
			w.EndObject()
		}
		w.EndObject()
	}
	if m.Origin != "" {
		w.Key("sstable_origin")
		w.String(m.Origin)
	}
	w.EndObject()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
