// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tool

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/colstore/sstool/sstable"
)

// decompressT implements decompress.
type decompressT struct {
	t    *T
	Root *cobra.Command
}

func newDecompress(t *T) *decompressT {
	d := &decompressT{t: t}
	d.Root = &cobra.Command{
		Use:   "decompress <sstables>",
		Short: "decompress the data component of sstable(s)",
		Long: `
Stream each compressed data component through its decompressor into a
sibling file named <original>.decompressed. Uncompressed sstables are
skipped. Existing output files are never overwritten.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: d.run,
	}
	return d
}

func (d *decompressT) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := d.t.loadSchema()
	if err != nil {
		return err
	}
	ssts, err := d.t.openSSTables(s, args)
	if err != nil {
		return err
	}
	for _, sst := range ssts {
		if !sst.Compressed() {
			d.t.logger.Infof("sstable %s is not compressed, nothing to do", sst.Path())
			continue
		}
		outPath := sst.Path() + ".decompressed"
		if err := decompressOne(ctx, sst, outPath); err != nil {
			return err
		}
		d.t.logger.Infof("sstable %s decompressed into %s", sst.Path(), outPath)
	}
	return nil
}

// decompressOne copies the decompressed data stream into outPath. The
// output is unlinked on any error.
func decompressOne(ctx context.Context, sst *sstable.SSTable, outPath string) (err error) {
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", outPath)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "closing %s", outPath)
		}
		if err != nil {
			_ = os.Remove(outPath)
		}
	}()
	in, err := sst.DataStream(ctx)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "decompressing %s", sst.Path())
	}
	return nil
}
