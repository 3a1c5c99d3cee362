// Copyright 2024 The Colstore Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package parse reconstructs a fragment stream from the structured dump
// format. The parser is streaming: a lexer pushes typed JSON events into an
// explicit state machine whose stack depth is bounded by the grammar, so
// memory use is independent of input size.
package parse

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/colstore/sstool/internal/base"
	"github.com/colstore/sstool/schema"
)

// Parser turns the structured dump of one sstable (a top-level array of
// partition objects) into a lazy fragment stream. It satisfies the reader
// contract the stream driver and the write pipeline consume.
//
// The parsing itself runs on its own goroutine and hands fragments over an
// unbuffered channel: at most one fragment is in flight, so a slow
// downstream consumer paces the lexer.
type Parser struct {
	cancel context.CancelFunc
	ch     chan base.Fragment
	done   chan struct{}
	err    error // set before done closes

	eof bool
}

// NewParser starts parsing r against the schema. Close releases the
// parsing goroutine if the stream is abandoned early.
func NewParser(ctx context.Context, r io.Reader, s *schema.Schema) *Parser {
	ctx, cancel := context.WithCancel(ctx)
	p := &Parser{
		cancel: cancel,
		ch:     make(chan base.Fragment),
		done:   make(chan struct{}),
	}
	go p.run(ctx, r, s)
	return p
}

func (p *Parser) run(ctx context.Context, r io.Reader, s *schema.Schema) {
	defer close(p.done)
	defer close(p.ch)
	lex := newLexer(r)
	h := newHandler(s, func(f base.Fragment) error {
		select {
		case p.ch <- f:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	for {
		ev, err := lex.next()
		if err != nil {
			p.err = errors.Wrap(err, "parsing input failed")
			return
		}
		if err := h.handle(ev); err != nil {
			if errors.Is(err, context.Canceled) {
				p.err = err
				return
			}
			line, col := lex.pos()
			p.err = errors.Wrapf(err, "parsing input failed at line %d, column %d", line, col)
			return
		}
		if ev.kind == evEOF {
			if !h.eos {
				p.err = errors.New("parsing input failed: input holds no top-level array")
			}
			return
		}
	}
}

// Next returns the next fragment, ok=false at end of stream. A structural
// error aborts the stream and surfaces here.
func (p *Parser) Next(ctx context.Context) (base.Fragment, bool, error) {
	if p.eof {
		return base.Fragment{}, false, p.err
	}
	select {
	case f, ok := <-p.ch:
		if !ok {
			p.eof = true
			<-p.done
			return base.Fragment{}, false, p.err
		}
		return f, true, nil
	case <-ctx.Done():
		return base.Fragment{}, false, ctx.Err()
	}
}

// NextPartition drains fragments until the current partition ends. The
// parser has no index, so the native skip is a drain.
func (p *Parser) NextPartition(ctx context.Context) error {
	for {
		f, ok, err := p.Next(ctx)
		if err != nil || !ok {
			return err
		}
		if f.Kind() == base.KindPartitionEnd {
			return nil
		}
	}
}

// Close cancels the parsing goroutine and waits for it to exit.
func (p *Parser) Close() error {
	p.cancel()
	for range p.ch {
		// Drain so the goroutine observes cancellation promptly.
	}
	<-p.done
	return nil
}
