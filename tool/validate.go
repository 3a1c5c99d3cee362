// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tool

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/colstore/sstool/stream"
	"github.com/colstore/sstool/validate"
)

// validateT implements validate and validate-checksums.
type validateT struct {
	t         *T
	Validate  *cobra.Command
	Checksums *cobra.Command

	merge   bool
	noSkips bool
	level   string
}

func newValidate(t *T) *validateT {
	v := &validateT{t: t, level: "clustering_key"}
	v.Validate = &cobra.Command{
		Use:   "validate [options] <sstables>",
		Short: "validate the ordering invariants of sstable(s)",
		Long: `
Validate the fragment streams of the sstables: the partition grammar, token
order, partition key order and clustering order, up to the chosen
--validation-level. Violations are reported as diagnostics and counted; the
exit code stays 0 so a scripted caller can keep scanning and read the
summary.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: v.runValidate,
	}
	v.Validate.Flags().BoolVar(
		&v.merge, "merge", false, "validate the merged stream of all sstables instead of each in turn")
	v.Validate.Flags().BoolVar(
		&v.noSkips, "no-skips", false, "drain skipped partitions instead of using the index, works with a corrupt index")
	v.Validate.Flags().StringVar(
		&v.level, "validation-level", "clustering_key",
		"strictness, one of (partition_region, token, partition_key, clustering_key)")

	v.Checksums = &cobra.Command{
		Use:   "validate-checksums <sstables>",
		Short: "validate the checksums of sstable(s)",
		Long: `
Verify the whole-file digest of each sstable's data component and, for
compressed sstables, every per-chunk checksum.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: v.runChecksums,
	}
	return v
}

func (v *validateT) runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := v.t.loadSchema()
	if err != nil {
		return err
	}
	level, err := validate.ParseLevel(v.level)
	if err != nil {
		return &UsageError{Err: err}
	}
	ssts, err := v.t.openSSTables(s, args)
	if err != nil {
		return err
	}
	srcs, err := sources(ctx, ssts, v.merge)
	if err != nil {
		return err
	}
	validator := validate.NewValidator(s, level, v.t.logger)
	if err := stream.ConsumeStream(ctx, srcs, validator, stream.Options{NoSkips: v.noSkips, Logger: v.t.logger}); err != nil {
		return err
	}
	table := tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"sstable", "errors", "verdict"})
	table.SetBorder(false)
	for _, res := range validator.Results {
		verdict := "valid"
		if res.Errors > 0 {
			verdict = "invalid"
		}
		table.Append([]string{res.Path, strconv.FormatUint(res.Errors, 10), verdict})
	}
	table.Render()
	return nil
}

func (v *validateT) runChecksums(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := v.t.loadSchema()
	if err != nil {
		return err
	}
	ssts, err := v.t.openSSTables(s, args)
	if err != nil {
		return err
	}
	for _, sst := range ssts {
		valid, err := sst.ValidateChecksums(ctx, v.t.logger)
		if err != nil {
			return err
		}
		verdict := "valid"
		if !valid {
			verdict = "invalid"
		}
		v.t.logger.Infof("validated the checksums of %s: %s", sst.Path(), verdict)
	}
	return nil
}
