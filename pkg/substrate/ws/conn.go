// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ws carries Jingle Requests and Responses as CBOR frames over WebSockets.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/jingle-go/jingle-go/pkg/jingle"
	"github.com/jingle-go/jingle-go/pkg/substrate"
)

// Router handles inbound Requests, e.g., a jingle.Manager.
type Router interface {
	Route(req jingle.Request) jingle.Response
}

// Conn is one WebSocket connection, acting as a jingle.Sender.
type Conn struct {
	writeMutex sync.Mutex
	conn       *websocket.Conn

	mutex     sync.Mutex
	onAnswer  func(*substrate.ResponseFrame)
	onRequest func(jingle.Request)

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(conn *websocket.Conn) *Conn {
	return &Conn{
		conn: conn,
		done: make(chan struct{}),
	}
}

// Dial a WebSocket URL, e.g., "ws://localhost:8080/jingle". The Conn must be started by Start afterwards.
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newConn(conn), nil
}

// OnAnswer registers a callback for Responses to this Conn's Requests.
func (c *Conn) OnAnswer(f func(*substrate.ResponseFrame)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.onAnswer = f
}

func (c *Conn) callbacks() (onAnswer func(*substrate.ResponseFrame), onRequest func(jingle.Request)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.onAnswer, c.onRequest
}

func (c *Conn) writeFrame(f substrate.Frame) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	wc, wcErr := c.conn.NextWriter(websocket.BinaryMessage)
	if wcErr != nil {
		return wcErr
	}

	if cborErr := substrate.MarshalFrame(f, wc); cborErr != nil {
		return cborErr
	}

	return wc.Close()
}

func (c *Conn) readFrame() (f substrate.Frame, err error) {
	if mt, r, rErr := c.conn.NextReader(); rErr != nil {
		err = rErr
		return
	} else if mt != websocket.BinaryMessage {
		err = fmt.Errorf("expected binary message, got %d", mt)
		return
	} else {
		return substrate.UnmarshalFrame(r)
	}
}

// Send a Request to the connected peer.
func (c *Conn) Send(req jingle.Request) error {
	select {
	case <-c.done:
		return substrate.ErrClosed
	default:
	}

	return c.writeFrame(&substrate.RequestFrame{Request: req})
}

// Start the reader in the background, delivering inbound Requests to the Router.
func (c *Conn) Start(router Router) {
	go c.Serve(router)
}

// Serve reads frames until the connection is closed. Requests are routed in their order of arrival and answered.
func (c *Conn) Serve(router Router) {
	defer func() { _ = c.Close() }()

	logger := log.WithField("websocket", c.conn.RemoteAddr().String())

	for {
		f, err := c.readFrame()
		if err != nil {
			var netErr *net.OpError
			if errors.As(err, &netErr) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("WebSocket reader finished")
			} else {
				logger.WithError(err).Warn("Reading next WebSocket frame errored")
			}
			return
		}

		onAnswer, onRequest := c.callbacks()

		switch f := f.(type) {
		case *substrate.RequestFrame:
			if onRequest != nil {
				onRequest(f.Request)
			}

			resp := router.Route(f.Request)
			if err := c.writeFrame(substrate.NewResponseFrame(resp)); err != nil {
				logger.WithError(err).Warn("Sending response errored")
				return
			}

		case *substrate.ResponseFrame:
			if !f.IsAck() {
				logger.WithFields(log.Fields{
					"id":    f.ID,
					"error": f.Error(),
				}).Info("Peer answered with an error")
			}
			if onAnswer != nil {
				onAnswer(f)
			}

		default:
			logger.WithField("frame", f).Info("Received unknown frame")
		}
	}
}

// Done is closed after the connection was closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close the connection with a close message.
func (c *Conn) Close() (err error) {
	err = substrate.ErrClosed
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMutex.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMutex.Unlock()

		err = c.conn.Close()
	})
	return
}
