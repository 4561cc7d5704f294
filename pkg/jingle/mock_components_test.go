// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

const (
	mockDescriptionNs = "urn:test:description"
	mockSecurityNs    = "urn:test:security"
)

// mockExchange pairs outgoing and incoming establishments by their token.
type mockExchange struct {
	mutex sync.Mutex
	conns map[string]chan net.Conn
}

func newMockExchange() *mockExchange {
	return &mockExchange{conns: make(map[string]chan net.Conn)}
}

func (ex *mockExchange) slot(token string) chan net.Conn {
	ex.mutex.Lock()
	defer ex.mutex.Unlock()

	ch, ok := ex.conns[token]
	if !ok {
		ch = make(chan net.Conn, 1)
		ex.conns[token] = ch
	}
	return ch
}

// mockMethod is a transport method acting as TransportManager and TransportAdapter.
type mockMethod struct {
	namespace string
	priority  int
	exchange  *mockExchange

	mutex sync.Mutex
	fail  bool
}

func newMockMethod(namespace string, priority int, exchange *mockExchange) *mockMethod {
	return &mockMethod{namespace: namespace, priority: priority, exchange: exchange}
}

func (mm *mockMethod) setFail(fail bool) {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	mm.fail = fail
}

func (mm *mockMethod) failing() bool {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	return mm.fail
}

func (mm *mockMethod) Namespace() string { return mm.namespace }
func (mm *mockMethod) Priority() int     { return mm.priority }

func (mm *mockMethod) CreateTransport(ref ContentRef) (Transport, error) {
	t := &mockTransport{method: mm, token: uuid.NewString()}
	t.Bind(ref)
	return t, nil
}

func (mm *mockMethod) TransportFromWire(p Payload) (Transport, error) {
	if len(p.Data) == 0 {
		return nil, fmt.Errorf("transport payload without token")
	}
	return &mockTransport{method: mm, token: string(p.Data)}, nil
}

func (mm *mockMethod) TransportToWire(t Transport) (Payload, error) {
	mt, ok := t.(*mockTransport)
	if !ok {
		return Payload{}, fmt.Errorf("unexpected transport %T", t)
	}
	return Payload{Namespace: mm.namespace, Data: []byte(mt.token)}, nil
}

type mockTransport struct {
	BaseTransport

	method *mockMethod
	token  string
}

func (mt *mockTransport) Namespace() string { return mt.method.namespace }

func (mt *mockTransport) EstablishOutgoingBytestream(ctx context.Context) (Bytestream, error) {
	if mt.method.failing() {
		return nil, &TransportError{Namespace: mt.method.namespace, Err: fmt.Errorf("injected failure")}
	}

	ours, theirs := net.Pipe()
	select {
	case mt.method.exchange.slot(mt.token) <- theirs:
		return ours, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (mt *mockTransport) EstablishIncomingBytestream(ctx context.Context) (Bytestream, error) {
	if mt.method.failing() {
		return nil, &TransportError{Namespace: mt.method.namespace, Err: fmt.Errorf("injected failure")}
	}

	select {
	case conn := <-mt.method.exchange.slot(mt.token):
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleTransportInfo answers a "ping" with a "pong".
func (mt *mockTransport) HandleTransportInfo(info Payload) (*Payload, error) {
	if string(info.Data) == "ping" {
		return &Payload{Namespace: mt.method.namespace, Data: []byte("pong")}, nil
	}
	return nil, nil
}

// mockDescription sends its data or receives data into its buffer.
type mockDescription struct {
	data []byte

	mutex    sync.Mutex
	received []byte
	infos    []Payload
	done     chan struct{}
}

func newMockDescription(data []byte) *mockDescription {
	return &mockDescription{data: data, done: make(chan struct{})}
}

func (md *mockDescription) Namespace() string { return mockDescriptionNs }

func (md *mockDescription) OnBytestream(ctx context.Context, stream Bytestream, sending bool) error {
	defer close(md.done)
	defer stream.Close()

	if sending {
		_, err := io.Copy(stream, bytes.NewReader(md.data))
		return err
	}

	buf, err := io.ReadAll(stream)
	md.mutex.Lock()
	md.received = buf
	md.mutex.Unlock()
	if err != nil {
		return err
	}
	if !bytes.Equal(buf, md.data) {
		return fmt.Errorf("received %q, expected %q", buf, md.data)
	}
	return nil
}

// HandleDescriptionInfo records infos of its own namespace.
func (md *mockDescription) HandleDescriptionInfo(info Payload) error {
	if info.Namespace != mockDescriptionNs {
		return fmt.Errorf("no description-info %q supported", info.Namespace)
	}

	md.mutex.Lock()
	defer md.mutex.Unlock()

	md.infos = append(md.infos, info)
	return nil
}

func (md *mockDescription) descriptionInfos() []Payload {
	md.mutex.Lock()
	defer md.mutex.Unlock()

	return append([]Payload(nil), md.infos...)
}

type mockDescriptionAdapter struct{}

func (mockDescriptionAdapter) DescriptionFromWire(p Payload) (Description, error) {
	return newMockDescription(p.Data), nil
}

func (mockDescriptionAdapter) DescriptionToWire(d Description) (Payload, error) {
	return Payload{Namespace: mockDescriptionNs, Data: d.(*mockDescription).data}, nil
}

// mockSecurity records security-infos and fails for a payload of "bad".
type mockSecurity struct {
	mutex sync.Mutex
	ref   ContentRef
	infos []Payload
}

func (ms *mockSecurity) Namespace() string { return mockSecurityNs }

func (ms *mockSecurity) Bind(ref ContentRef) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.ref = ref
}

func (ms *mockSecurity) HandleSecurityInfo(info Payload) error {
	if string(info.Data) == "bad" {
		return fmt.Errorf("bad security-info")
	}

	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.infos = append(ms.infos, info)
	return nil
}

func (ms *mockSecurity) securityInfos() []Payload {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	return append([]Payload(nil), ms.infos...)
}

// mockSecurityAdapter refuses payloads of "broken".
type mockSecurityAdapter struct{}

func (mockSecurityAdapter) SecurityFromWire(p Payload) (Security, error) {
	if string(p.Data) == "broken" {
		return nil, fmt.Errorf("broken security payload")
	}
	return &mockSecurity{}, nil
}

func (mockSecurityAdapter) SecurityToWire(s Security) (Payload, error) {
	return Payload{Namespace: mockSecurityNs, Data: []byte("keys")}, nil
}

// mockDescriptionManager decides content-add offers by a fixed answer.
type mockDescriptionManager struct {
	accept bool

	mutex  sync.Mutex
	offers []ContentOffer
}

func (mdm *mockDescriptionManager) Namespace() string { return mockDescriptionNs }

func (mdm *mockDescriptionManager) DecideContent(_ context.Context, offer ContentOffer) bool {
	mdm.mutex.Lock()
	defer mdm.mutex.Unlock()

	mdm.offers = append(mdm.offers, offer)
	return mdm.accept
}

// mockSender records outbound Requests.
type mockSender struct {
	ch chan Request
}

func newMockSender() *mockSender {
	return &mockSender{ch: make(chan Request, 64)}
}

func (ms *mockSender) Send(req Request) error {
	ms.ch <- req
	return nil
}

// next returns the next sent Request or fails after a timeout.
func (ms *mockSender) next(t *testing.T) Request {
	t.Helper()

	select {
	case req := <-ms.ch:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("No request was sent within time")
		return Request{}
	}
}

// expect returns the next sent Request and checks its Action.
func (ms *mockSender) expect(t *testing.T, action Action) Request {
	t.Helper()

	req := ms.next(t)
	if req.Action != action {
		t.Fatalf("Expected %v, got %v", action, req)
	}
	return req
}

// quiet fails if any Request is sent within a short time.
func (ms *mockSender) quiet(t *testing.T) {
	t.Helper()

	select {
	case req := <-ms.ch:
		t.Fatalf("Unexpected request %v", req)
	case <-time.After(100 * time.Millisecond):
	}
}

// mockPeer is one party of a test setup.
type mockPeer struct {
	manager *Manager
	sender  *mockSender
	methods map[string]*mockMethod
	dms     *DescriptionManagers
}

// newMockPeer creates a Manager with transport methods, given as namespace and priority pairs.
func newMockPeer(t *testing.T, local Address, exchange *mockExchange, methods map[string]int) *mockPeer {
	t.Helper()

	p := &mockPeer{
		sender:  newMockSender(),
		methods: make(map[string]*mockMethod),
		dms:     NewDescriptionManagers(),
	}

	adapters := NewRegistry()
	adapters.RegisterDescriptionAdapter(mockDescriptionNs, mockDescriptionAdapter{})
	adapters.RegisterSecurityAdapter(mockSecurityNs, mockSecurityAdapter{})

	tms := NewTransportManagers()
	for ns, prio := range methods {
		mm := newMockMethod(ns, prio, exchange)
		p.methods[ns] = mm
		adapters.RegisterTransportAdapter(ns, mm)
		tms.Register(mm)
	}

	m, err := NewManager(ManagerConfig{
		Local:        local,
		Sender:       p.sender,
		Adapters:     adapters,
		Transports:   tms,
		Descriptions: p.dms,
	})
	if err != nil {
		t.Fatal(err)
	}
	p.manager = m
	return p
}

// deliver routes a Request to this peer and requires an acknowledgment.
func (p *mockPeer) deliver(t *testing.T, req Request) Response {
	t.Helper()

	resp := p.manager.Route(req)
	if !resp.IsAck() {
		t.Fatalf("Expected ack for %v, got %v", req, resp)
	}
	return resp
}

// waitState polls a Session's state.
func waitState(t *testing.T, s *Session, state SessionState) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == state {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Session state is %v, expected %v", s.State(), state)
}

// waitContentState polls a Content's state.
func waitContentState(t *testing.T, c *Content, state ContentState) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == state {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Content state is %v, expected %v", c.State(), state)
}

// idle proposes a Content without senders, which never establishes a bytestream.
func idle(name string) ContentProposal {
	return ContentProposal{
		Name:        name,
		Senders:     SendersNone,
		Description: newMockDescription(nil),
	}
}

func proposal(name string, data string) ContentProposal {
	return ContentProposal{
		Name:        name,
		Senders:     SendersInitiator,
		Description: newMockDescription([]byte(data)),
	}
}

const (
	romeo  Address = "romeo@montague.example/orchard"
	juliet Address = "juliet@capulet.example/balcony"
)
