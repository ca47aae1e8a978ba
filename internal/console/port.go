// Package console emulates the serial command console: a receive ring fed
// from an io.Reader, a parser task that reacts to start/stop commands, and a
// sampler task that streams readings back out.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickflow/internal/faults"
	"tickflow/internal/ringbuf"
)

const DefaultBufferSize = 64

// Port is the receive side of the console plus its transmit line. Write is
// the receive interrupt: it may be called from any goroutine. Next is read
// by the parser task on the main loop.
type Port struct {
	ring ringbuf.Ops[byte]
	log  zerolog.Logger
	echo bool

	mu      sync.Mutex
	buf     []byte
	head    int
	count   int
	dropped uint64

	txMu sync.Mutex
	tx   io.Writer
}

type PortConfig struct {
	Size   int
	Echo   bool
	TX     io.Writer
	Faults *faults.Register
	Logger *zerolog.Logger
}

func NewPort(cfg PortConfig) *Port {
	if cfg.Size <= 0 {
		cfg.Size = DefaultBufferSize
	}
	if cfg.TX == nil {
		cfg.TX = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = &log.Logger
	}
	return &Port{
		ring: ringbuf.New[byte](cfg.Faults),
		log:  cfg.Logger.With().Str("component", "console").Logger(),
		echo: cfg.Echo,
		buf:  make([]byte, cfg.Size),
		tx:   cfg.TX,
	}
}

// Write queues p byte by byte. Bytes that do not fit are dropped; n is the
// number accepted and err wraps ringbuf.ErrFull when any were dropped.
// Accepted bytes are echoed when echo is on.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	n := 0
	for _, c := range b {
		if err := p.ring.Insert(p.buf, &p.head, &p.count, c); err != nil {
			break
		}
		n++
	}
	dropped := len(b) - n
	p.dropped += uint64(dropped)
	p.mu.Unlock()

	if p.echo && n > 0 {
		_, _ = p.Transmit(b[:n])
	}
	if dropped > 0 {
		return n, fmt.Errorf("console: %d bytes dropped: %w", dropped, ringbuf.ErrFull)
	}
	return n, nil
}

// Next consumes the oldest received byte.
func (p *Port) Next() (byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		return 0, false
	}
	c := p.buf[p.head]
	if err := p.ring.Delete(p.buf, &p.head, &p.count); err != nil {
		return 0, false
	}
	return c, true
}

func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Dropped is the number of received bytes lost to a full buffer.
func (p *Port) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Transmit writes to the TX line.
func (p *Port) Transmit(b []byte) (int, error) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.tx.Write(b)
}

// Listen pumps r into the port until EOF or ctx ends. A blocked Read is not
// interrupted by ctx; closing r is what unblocks it.
func (p *Port) Listen(ctx context.Context, r io.Reader) error {
	chunk := make([]byte, len(p.buf))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			if _, werr := p.Write(chunk[:n]); werr != nil {
				p.log.Warn().Err(werr).Msg("receive overrun")
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("console read: %w", err)
		}
	}
}
