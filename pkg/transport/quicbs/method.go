// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package quicbs is a Jingle transport method establishing bytestreams as QUIC streams.
//
// Each party listens on a QUIC socket and advertises it as its Candidates. The sending party dials the peer's
// Candidates in priority order, opens a stream and writes the Transport's token as a CBOR text string. The receiving
// party waits for a stream carrying its token.
package quicbs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// Namespace of the QUIC bytestream transport method.
const Namespace = "urn:jingle-go:transports:quic-bs:0"

const handshakeTimeout = 2 * time.Second

// Options of a Method.
type Options struct {
	// ListenAddress of the QUIC socket, e.g., ":4242".
	ListenAddress string

	// Advertise overrides the advertised "host:port" candidates. Otherwise the socket's address is used, with an
	// unspecified IP replaced by the loopback address.
	Advertise []string

	Priority int
}

// Method is both TransportManager and TransportAdapter of the QUIC bytestream transport method.
type Method struct {
	opts     Options
	listener *quic.Listener

	mutex sync.Mutex
	slots map[string]chan jingle.Bytestream

	closeOnce sync.Once
	stopSyn   chan struct{}
	stopAck   chan struct{}
}

// NewMethod starts a QUIC listener and its handler.
func NewMethod(opts Options) (*Method, error) {
	tlsConf, err := listenerTLSConfig()
	if err != nil {
		return nil, err
	}

	lst, err := quic.ListenAddr(opts.ListenAddress, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}

	m := &Method{
		opts:     opts,
		listener: lst,
		slots:    make(map[string]chan jingle.Bytestream),
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}

	log.WithFields(log.Fields{
		"address":  lst.Addr(),
		"priority": opts.Priority,
	}).Info("Started QUIC bytestream listener")

	go m.handle()
	return m, nil
}

// Register this Method at the TransportManagers and Registry of a connection.
func (m *Method) Register(tms *jingle.TransportManagers, adapters *jingle.Registry) {
	tms.Register(m)
	adapters.RegisterTransportAdapter(Namespace, m)
}

// Addr of the QUIC listener.
func (m *Method) Addr() net.Addr {
	return m.listener.Addr()
}

// Close the listener. Pending incoming establishments will time out or be cancelled by their Sessions.
func (m *Method) Close() (err error) {
	m.closeOnce.Do(func() {
		close(m.stopSyn)
		err = m.listener.Close()
		<-m.stopAck
	})
	return
}

func (m *Method) handle() {
	defer close(m.stopAck)

	for {
		conn, err := m.listener.Accept(context.Background())
		if err != nil {
			select {
			case <-m.stopSyn:
				log.WithField("address", m.listener.Addr()).Info("QUIC bytestream listener was closed")
				return
			default:
			}

			log.WithError(err).WithField("address", m.listener.Addr()).Warn("Accepting QUIC connection errored")
			return
		}

		go m.handleConn(conn)
	}
}

// handleConn reads the token of the connection's first stream and hands the stream to the waiting Transport.
func (m *Method) handleConn(conn quic.Connection) {
	logger := log.WithField("peer", conn.RemoteAddr())

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		logger.WithError(err).Info("QUIC connection did not open a stream")
		_ = conn.CloseWithError(errorHandshake, "no stream")
		return
	}

	_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))
	token, err := cboring.ReadTextString(stream)
	_ = stream.SetReadDeadline(time.Time{})
	if err != nil {
		logger.WithError(err).Info("Reading QUIC bytestream token errored")
		_ = conn.CloseWithError(errorHandshake, "no token")
		return
	}

	logger.WithField("token", token).Debug("QUIC bytestream arrived")

	ch, ok := m.lookup(token)
	if !ok {
		logger.WithField("token", token).Info("Dropping QUIC bytestream for an unknown token")
		_ = conn.CloseWithError(errorHandshake, "unknown token")
		return
	}

	select {
	case ch <- &bytestream{Stream: stream, conn: conn}:
	default:
		logger.WithField("token", token).Info("Duplicate QUIC bytestream for a token")
		_ = conn.CloseWithError(errorHandshake, "duplicate token")
	}
}

// register a slot for a local Transport's token. Inbound streams are only accepted for registered tokens.
func (m *Method) register(token string) chan jingle.Bytestream {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ch, ok := m.slots[token]
	if !ok {
		ch = make(chan jingle.Bytestream, 1)
		m.slots[token] = ch
	}
	return ch
}

func (m *Method) lookup(token string) (chan jingle.Bytestream, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ch, ok := m.slots[token]
	return ch, ok
}

func (m *Method) release(token string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.slots, token)
}

func (m *Method) Namespace() string {
	return Namespace
}

func (m *Method) Priority() int {
	return m.opts.Priority
}

// candidates advertised for this listener.
func (m *Method) candidates(token string) (cs []*jingle.Candidate, err error) {
	addrs := m.opts.Advertise
	if len(addrs) == 0 {
		udpAddr, ok := m.listener.Addr().(*net.UDPAddr)
		if !ok {
			return nil, fmt.Errorf("unexpected listener address %v", m.listener.Addr())
		}

		ip := udpAddr.IP
		if ip == nil || ip.IsUnspecified() {
			ip = net.IPv4(127, 0, 0, 1)
		}
		addrs = []string{net.JoinHostPort(ip.String(), strconv.Itoa(udpAddr.Port))}
	}

	for i, addr := range addrs {
		host, portStr, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			return nil, splitErr
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			return nil, convErr
		}

		cs = append(cs, &jingle.Candidate{
			ID:       fmt.Sprintf("%s-%d", token, i),
			Type:     "direct",
			Host:     host,
			Port:     port,
			Priority: len(addrs) - i,
		})
	}
	return
}

// CreateTransport with a fresh token and this listener's Candidates.
func (m *Method) CreateTransport(ref jingle.ContentRef) (jingle.Transport, error) {
	t, err := m.newTransport(uuid.NewString())
	if err != nil {
		return nil, err
	}
	t.Bind(ref)
	return t, nil
}

func (m *Method) newTransport(token string) (*Transport, error) {
	cs, err := m.candidates(token)
	if err != nil {
		return nil, err
	}

	t := &Transport{method: m, token: token}
	m.register(token)
	for _, c := range cs {
		t.AddOurCandidate(c)
	}
	return t, nil
}

func (m *Method) TransportFromWire(p jingle.Payload) (jingle.Transport, error) {
	params, err := unmarshalParams(p.Data)
	if err != nil {
		return nil, fmt.Errorf("quic-bs payload: %w", err)
	}

	t, err := m.newTransport(params.token)
	if err != nil {
		return nil, err
	}
	for _, c := range params.candidates {
		t.AddTheirCandidate(c)
	}
	return t, nil
}

func (m *Method) TransportToWire(t jingle.Transport) (jingle.Payload, error) {
	qt, ok := t.(*Transport)
	if !ok {
		return jingle.Payload{}, fmt.Errorf("quic-bs cannot serialize %T", t)
	}

	data, err := marshalParams(params{token: qt.token, candidates: qt.OurCandidates()})
	if err != nil {
		return jingle.Payload{}, err
	}
	return jingle.Payload{Namespace: Namespace, Data: data}, nil
}

// Transport is a QUIC bytestream Transport, identified by its token.
type Transport struct {
	jingle.BaseTransport

	method *Method
	token  string
}

func (t *Transport) Namespace() string {
	return Namespace
}

// EstablishOutgoingBytestream dials the peer's Candidates, highest priority first. The sending party never receives
// a stream for its token, thus its slot is released.
func (t *Transport) EstablishOutgoingBytestream(ctx context.Context) (jingle.Bytestream, error) {
	t.method.release(t.token)

	candidates := t.TheirCandidates()
	if len(candidates) == 0 {
		return nil, &jingle.TransportError{Namespace: Namespace, Err: fmt.Errorf("peer has no candidates")}
	}

	var lastErr error
	for _, c := range candidates {
		logger := log.WithFields(log.Fields{
			"content":   t.Ref(),
			"candidate": c,
		})

		stream, err := t.dial(ctx, c)
		if err == nil {
			logger.Debug("Established outgoing QUIC bytestream")
			return stream, nil
		}

		logger.WithError(err).Info("Dialing QUIC candidate errored")
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &jingle.TransportError{Namespace: Namespace, Err: lastErr}
}

func (t *Transport) dial(ctx context.Context, c *jingle.Candidate) (jingle.Bytestream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, c.Address(), dialerTLSConfig(), quicConfig())
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(errorHandshake, "opening stream")
		return nil, err
	}

	if err := cboring.WriteTextString(t.token, stream); err != nil {
		_ = conn.CloseWithError(errorHandshake, "writing token")
		return nil, err
	}

	return &bytestream{Stream: stream, conn: conn, dialer: true}, nil
}

// EstablishIncomingBytestream waits for the peer's stream carrying this Transport's token.
func (t *Transport) EstablishIncomingBytestream(ctx context.Context) (jingle.Bytestream, error) {
	select {
	case stream := <-t.method.register(t.token):
		t.method.release(t.token)
		return stream, nil

	case <-t.method.stopSyn:
		return nil, &jingle.TransportError{Namespace: Namespace, Err: errors.New("listener closed")}

	case <-ctx.Done():
		t.method.release(t.token)
		return nil, ctx.Err()
	}
}

// HandleTransportInfo merges the peer's Candidates of the same token.
func (t *Transport) HandleTransportInfo(info jingle.Payload) (*jingle.Payload, error) {
	p, err := unmarshalParams(info.Data)
	if err != nil {
		return nil, err
	} else if p.token != t.token {
		return nil, fmt.Errorf("quic-bs token %q does not match %q", p.token, t.token)
	}

	for _, c := range p.candidates {
		t.AddTheirCandidate(c)
	}
	return nil, nil
}
