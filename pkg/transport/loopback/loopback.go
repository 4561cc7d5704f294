// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package loopback provides an in-process Jingle transport method. Bytestreams are in-memory pipes, paired through a
// shared Exchange. It serves tests and two Managers living in one process.
package loopback

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// Namespace of the loopback transport method.
const Namespace = "urn:jingle-go:transports:loopback:0"

// Exchange pairs the two ends of a bytestream by their token. One Exchange must be shared by both parties.
type Exchange struct {
	mutex sync.Mutex
	slots map[string]chan net.Conn
}

// NewExchange creates an empty Exchange.
func NewExchange() *Exchange {
	return &Exchange{slots: make(map[string]chan net.Conn)}
}

func (ex *Exchange) slot(token string) chan net.Conn {
	ex.mutex.Lock()
	defer ex.mutex.Unlock()

	ch, ok := ex.slots[token]
	if !ok {
		ch = make(chan net.Conn, 1)
		ex.slots[token] = ch
	}
	return ch
}

func (ex *Exchange) release(token string) {
	ex.mutex.Lock()
	defer ex.mutex.Unlock()

	delete(ex.slots, token)
}

// Options of a Method. The zero value of Namespace falls back to the package's Namespace.
type Options struct {
	Namespace string
	Priority  int

	// FailOutgoing and FailIncoming make the respective establishment fail.
	FailOutgoing bool
	FailIncoming bool
}

// Method is both TransportManager and TransportAdapter of the loopback transport method.
type Method struct {
	exchange *Exchange

	mutex sync.RWMutex
	opts  Options
}

// NewMethod creates a loopback Method on an Exchange.
func NewMethod(exchange *Exchange, opts Options) *Method {
	if opts.Namespace == "" {
		opts.Namespace = Namespace
	}
	return &Method{exchange: exchange, opts: opts}
}

// Register this Method at the TransportManagers and Registry of a connection.
func (m *Method) Register(tms *jingle.TransportManagers, adapters *jingle.Registry) {
	tms.Register(m)
	adapters.RegisterTransportAdapter(m.Namespace(), m)
}

// SetFailures changes the failure injection.
func (m *Method) SetFailures(outgoing, incoming bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.opts.FailOutgoing, m.opts.FailIncoming = outgoing, incoming
}

func (m *Method) options() Options {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.opts
}

func (m *Method) Namespace() string {
	return m.options().Namespace
}

func (m *Method) Priority() int {
	return m.options().Priority
}

// CreateTransport with a fresh token.
func (m *Method) CreateTransport(ref jingle.ContentRef) (jingle.Transport, error) {
	t := m.newTransport(uuid.NewString())
	t.Bind(ref)
	return t, nil
}

func (m *Method) newTransport(token string) *Transport {
	t := &Transport{method: m, token: token}
	t.AddOurCandidate(&jingle.Candidate{ID: token, Type: "loopback", Host: "memory", Priority: m.Priority()})
	return t
}

// TransportFromWire reads the token from a CBOR text string.
func (m *Method) TransportFromWire(p jingle.Payload) (jingle.Transport, error) {
	token, err := cboring.ReadTextString(bytes.NewReader(p.Data))
	if err != nil {
		return nil, fmt.Errorf("loopback payload: %w", err)
	} else if token == "" {
		return nil, fmt.Errorf("loopback payload without a token")
	}

	t := m.newTransport(token)
	t.AddTheirCandidate(&jingle.Candidate{ID: token, Type: "loopback", Host: "memory", Priority: m.Priority()})
	return t, nil
}

func (m *Method) TransportToWire(t jingle.Transport) (jingle.Payload, error) {
	lt, ok := t.(*Transport)
	if !ok {
		return jingle.Payload{}, fmt.Errorf("loopback cannot serialize %T", t)
	}

	var buf bytes.Buffer
	if err := cboring.WriteTextString(lt.token, &buf); err != nil {
		return jingle.Payload{}, err
	}
	return jingle.Payload{Namespace: m.Namespace(), Data: buf.Bytes()}, nil
}

// Transport is a loopback Transport, identified by its token.
type Transport struct {
	jingle.BaseTransport

	method *Method
	token  string
}

func (t *Transport) Namespace() string {
	return t.method.Namespace()
}

// Token pairing both ends.
func (t *Transport) Token() string {
	return t.token
}

func (t *Transport) fail(direction string) error {
	log.WithFields(log.Fields{
		"content":   t.Ref(),
		"direction": direction,
	}).Debug("Loopback transport fails by injection")

	return &jingle.TransportError{Namespace: t.Namespace(), Err: fmt.Errorf("%s establishment failed by injection", direction)}
}

func (t *Transport) EstablishOutgoingBytestream(ctx context.Context) (jingle.Bytestream, error) {
	if t.method.options().FailOutgoing {
		return nil, t.fail("outgoing")
	}

	ours, theirs := net.Pipe()
	select {
	case t.method.exchange.slot(t.token) <- theirs:
		return ours, nil
	case <-ctx.Done():
		_ = ours.Close()
		_ = theirs.Close()
		return nil, ctx.Err()
	}
}

func (t *Transport) EstablishIncomingBytestream(ctx context.Context) (jingle.Bytestream, error) {
	if t.method.options().FailIncoming {
		return nil, t.fail("incoming")
	}

	select {
	case conn := <-t.method.exchange.slot(t.token):
		t.method.exchange.release(t.token)
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleTransportInfo accepts the peer's parameters if they name the same token.
func (t *Transport) HandleTransportInfo(info jingle.Payload) (*jingle.Payload, error) {
	token, err := cboring.ReadTextString(bytes.NewReader(info.Data))
	if err != nil {
		return nil, err
	} else if token != t.token {
		return nil, fmt.Errorf("loopback token %q does not match %q", token, t.token)
	}
	return nil, nil
}
