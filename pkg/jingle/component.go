// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"context"
	"fmt"
	"io"
)

// ContentRef identifies a Content by its Session and name. Components use it as their non-owning back-reference.
type ContentRef struct {
	Session SessionID
	Name    string
}

func (ref ContentRef) String() string {
	return fmt.Sprintf("%v/%s", ref.Session, ref.Name)
}

// Bytestream is the established data channel of a Content.
type Bytestream = io.ReadWriteCloser

// Description is a Content's application, e.g., a file transfer.
type Description interface {
	// Namespace of this application.
	Namespace() string

	// OnBytestream starts the application's transfer over the established Bytestream. It blocks until the transfer
	// is finished and must close the Bytestream. The sending flag tells the direction.
	OnBytestream(ctx context.Context, stream Bytestream, sending bool) error

	// HandleDescriptionInfo processes a description-info payload.
	HandleDescriptionInfo(info Payload) error
}

// Security is a Content's optional end-to-end security layer.
type Security interface {
	Namespace() string

	// Bind re-parents this Security to a Content.
	Bind(ref ContentRef)

	// HandleSecurityInfo processes a security-info payload.
	HandleSecurityInfo(info Payload) error
}

// Transport is one negotiated transport method instance of a Content.
//
// The Establish methods are the only blocking operations. Each call returns exactly once, either with an established
// Bytestream or with an error. A cancelled context must abort the establishment.
type Transport interface {
	Namespace() string

	// Bind re-parents this Transport and its Candidates to a Content.
	Bind(ref ContentRef)

	OurCandidates() []*Candidate
	TheirCandidates() []*Candidate
	AddOurCandidate(c *Candidate) bool
	AddTheirCandidate(c *Candidate) bool

	// EstablishOutgoingBytestream is used by the sending party.
	EstablishOutgoingBytestream(ctx context.Context) (Bytestream, error)

	// EstablishIncomingBytestream is used by the receiving party.
	EstablishIncomingBytestream(ctx context.Context) (Bytestream, error)

	// HandleTransportInfo processes a transport-info payload. The returned Payload is an optional answer.
	HandleTransportInfo(info Payload) (*Payload, error)
}

// TransportError wraps a failed bytestream establishment of some transport method.
type TransportError struct {
	Namespace string
	Err       error
}

func (te *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", te.Namespace, te.Err)
}

func (te *TransportError) Unwrap() error {
	return te.Err
}

// BaseTransport implements the Candidate management of a Transport, to be embedded by transport methods.
type BaseTransport struct {
	ref    ContentRef
	ours   CandidateList
	theirs CandidateList
}

// Ref returns the Content this Transport is bound to.
func (bt *BaseTransport) Ref() ContentRef {
	bt.ours.mutex.RLock()
	defer bt.ours.mutex.RUnlock()

	return bt.ref
}

func (bt *BaseTransport) Bind(ref ContentRef) {
	bt.ours.mutex.Lock()
	bt.ref = ref
	for _, c := range bt.ours.items {
		c.Content = ref
	}
	bt.ours.mutex.Unlock()

	bt.theirs.mutex.Lock()
	for _, c := range bt.theirs.items {
		c.Content = ref
	}
	bt.theirs.mutex.Unlock()
}

func (bt *BaseTransport) OurCandidates() []*Candidate {
	return bt.ours.Items()
}

func (bt *BaseTransport) TheirCandidates() []*Candidate {
	return bt.theirs.Items()
}

func (bt *BaseTransport) AddOurCandidate(c *Candidate) bool {
	c.Content = bt.Ref()
	return bt.ours.Add(c)
}

func (bt *BaseTransport) AddTheirCandidate(c *Candidate) bool {
	c.Content = bt.Ref()
	return bt.theirs.Add(c)
}
