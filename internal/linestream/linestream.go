// SPDX-License-Identifier: GPL-2.0
/*
 * Copyright (c) 2023 Oracle and/or its affiliates.
 * Copyright (c) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * tlsconntest-go is free software; you can redistribute it and/or
 * modify it under the terms of the GNU General Public License as
 * published by the Free Software Foundation; version 2.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA
 * 02110-1301, USA.
 */

// Package linestream provides line based reads and writes over a connection,
// used to check that a channel is usable once the handshake is complete.
package linestream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

// ErrNonASCII is returned when a line contains bytes outside the ASCII range.
var ErrNonASCII = errors.New("line contains non-ASCII characters")

// Conn is the channel a Stream is layered on.
type Conn interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Stream reads and writes ASCII lines. Writes are not buffered.
type Stream struct {
	conn   Conn
	reader *bufio.Reader
}

// New returns a Stream over conn. The stream is released along with conn.
func New(conn Conn) *Stream {
	return &Stream{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// ReadLine returns the next line without its terminator. A final line that
// is not terminated is returned before io.EOF.
func (s *Stream) ReadLine(ctx context.Context) (string, error) {
	// A complete line that is already buffered is served without touching
	// the connection, which may have been closed by the peer.
	if n := s.reader.Buffered(); n > 0 {
		if buf, err := s.reader.Peek(n); err == nil && bytes.IndexByte(buf, '\n') >= 0 {
			line, err := s.reader.ReadString('\n')
			if err != nil {
				return "", err
			}
			return strings.TrimRight(line, "\r\n"), nil
		}
	}

	stop, err := s.bindDeadline(ctx, s.conn.SetReadDeadline)
	if err != nil {
		return "", err
	}
	defer stop()

	line, err := s.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", contextError(ctx, err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLine writes line followed by CRLF.
func (s *Stream) WriteLine(ctx context.Context, line string) error {
	for i := 0; i < len(line); i++ {
		if line[i] > 0x7f {
			return ErrNonASCII
		}
	}

	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("line must not contain line terminators")
	}

	stop, err := s.bindDeadline(ctx, s.conn.SetWriteDeadline)
	if err != nil {
		return err
	}
	defer stop()

	if _, err := io.WriteString(s.conn, line+"\r\n"); err != nil {
		return contextError(ctx, err)
	}

	return nil
}

// bindDeadline applies the context deadline to the connection and interrupts
// the pending call when the context is cancelled. A connection that is
// already closed keeps no deadline; the following read or write reports it.
func (s *Stream) bindDeadline(ctx context.Context, set func(time.Time) error) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	if err := set(deadline); err != nil {
		if ctx.Done() == nil || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return func() {}, nil
		}
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Unix(1, 0))
	})

	return func() {
		if stop() {
			_ = set(time.Time{})
		}
	}, nil
}

func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}

	// The connection deadline can fire just before the context timer does.
	if deadline, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}

	return err
}
