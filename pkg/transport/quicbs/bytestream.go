// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicbs

import (
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

const drainTimeout = 5 * time.Second

// bytestream is a QUIC stream, closed in both directions by Close.
type bytestream struct {
	quic.Stream

	conn   quic.Connection
	dialer bool
}

// Close finishes the write direction. The dialer waits for the peer's finish before closing the connection.
func (bs *bytestream) Close() error {
	err := bs.Stream.Close()

	if bs.dialer {
		_ = bs.Stream.SetReadDeadline(time.Now().Add(drainTimeout))
		_, _ = io.Copy(io.Discard, bs.Stream)
		_ = bs.conn.CloseWithError(errorNone, "")
	}
	return err
}
