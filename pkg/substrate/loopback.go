// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package substrate

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// ErrClosed is returned by Send on a closed substrate.
var ErrClosed = errors.New("substrate is closed")

// Endpoint is one side of an in-process Loopback. It is the Sender of its Manager.
type Endpoint struct {
	peer *Endpoint

	mutex    sync.Mutex
	inbox    []jingle.Request
	notify   chan struct{}
	manager  *jingle.Manager
	closed   bool
	onAnswer func(jingle.Response)

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewLoopback creates two linked Endpoints. Each must be bound to its Manager by Bind.
func NewLoopback() (a, b *Endpoint) {
	a, b = newEndpoint(), newEndpoint()
	a.peer, b.peer = b, a
	return
}

func newEndpoint() *Endpoint {
	return &Endpoint{
		notify:  make(chan struct{}, 1),
		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}
}

// Bind a Manager to this Endpoint and start delivering the peer's Requests to it.
func (e *Endpoint) Bind(manager *jingle.Manager) {
	e.mutex.Lock()
	e.manager = manager
	e.mutex.Unlock()

	go e.handle()
}

// OnAnswer registers a callback for the peer's Responses to this Endpoint's Requests.
func (e *Endpoint) OnAnswer(f func(jingle.Response)) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.onAnswer = f
}

// Send enqueues a Request for the peer without blocking.
func (e *Endpoint) Send(req jingle.Request) error {
	return e.peer.enqueue(req)
}

func (e *Endpoint) enqueue(req jingle.Request) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return ErrClosed
	}

	e.inbox = append(e.inbox, req)
	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}

func (e *Endpoint) dequeue() (req jingle.Request, ok bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(e.inbox) == 0 {
		return
	}

	req, e.inbox = e.inbox[0], e.inbox[1:]
	return req, true
}

func (e *Endpoint) handle() {
	defer close(e.stopAck)

	for {
		select {
		case <-e.stopSyn:
			return
		case <-e.notify:
		}

		for {
			req, ok := e.dequeue()
			if !ok {
				break
			}

			resp := e.manager.Route(req)
			if !resp.IsAck() {
				log.WithFields(log.Fields{
					"request": req,
					"error":   resp.Error,
				}).Info("Loopback request was answered by an error")
			}
			e.peer.answer(resp)
		}
	}
}

func (e *Endpoint) answer(resp jingle.Response) {
	e.mutex.Lock()
	f := e.onAnswer
	e.mutex.Unlock()

	if f != nil {
		f(resp)
	}
}

// Close stops the delivery. Later Requests to this Endpoint are refused.
func (e *Endpoint) Close() error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrClosed
	}
	e.closed = true
	bound := e.manager != nil
	e.mutex.Unlock()

	close(e.stopSyn)
	if bound {
		<-e.stopAck
	}
	return nil
}
