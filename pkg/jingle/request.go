// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Address is a full XMPP address, e.g., "juliet@capulet.example/balcony".
type Address string

// Valid checks the minimal shape of a full address: a domain part and a resource.
func (a Address) Valid() bool {
	s := string(a)
	slash := strings.IndexByte(s, '/')
	return slash > 0 && slash < len(s)-1 && !strings.HasPrefix(s, "@")
}

// SessionID identifies a Session by its immutable initiator, responder and session id triple.
type SessionID struct {
	Initiator Address
	Responder Address
	SID       string
}

func (id SessionID) String() string {
	return fmt.Sprintf("%s(%s->%s)", id.SID, id.Initiator, id.Responder)
}

// Payload is an element of some namespace in its already parsed, opaque form. Adapters convert Payloads into
// components and back.
type Payload struct {
	Namespace string
	Data      []byte
}

// IsZero reports an absent Payload.
func (p Payload) IsZero() bool {
	return p.Namespace == "" && len(p.Data) == 0
}

// ContentDescriptor is the wire description of a Content within a Request.
type ContentDescriptor struct {
	Name        string
	Creator     Role
	Senders     Senders
	Disposition string

	Description Payload
	Transport   Payload
	Security    *Payload
}

// Request is an already parsed Jingle action request, inbound or outbound.
type Request struct {
	// ID is the stanza identifier assigned by the messaging substrate, might be empty.
	ID string

	Action    Action
	SessionID string
	Initiator Address
	Responder Address
	From      Address
	To        Address

	Contents []ContentDescriptor

	// Reason is only set for session-terminate.
	Reason Reason

	// Info is an optional informational payload, used by session-info.
	Info *Payload
}

// Session returns the SessionID this Request is referencing.
func (req Request) Session() SessionID {
	return SessionID{
		Initiator: req.Initiator,
		Responder: req.Responder,
		SID:       req.SessionID,
	}
}

// ContentNames of all ContentDescriptors, in order.
func (req Request) ContentNames() (names []string) {
	for _, cd := range req.Contents {
		names = append(names, cd.Name)
	}
	return
}

func (req Request) String() string {
	return fmt.Sprintf("%v[%s] %s->%s %v", req.Action, req.SessionID, req.From, req.To, req.ContentNames())
}

// CheckValid returns every problem of this Request, combined by multierror. The wire layer should already reject
// malformed values, but the core does not rely on it.
func (req Request) CheckValid() (errs error) {
	if !req.Action.Valid() {
		errs = multierror.Append(errs, fmt.Errorf("invalid action %v", req.Action))
	}

	if req.SessionID == "" {
		errs = multierror.Append(errs, fmt.Errorf("empty session id"))
	}

	for _, addr := range []Address{req.From, req.To} {
		if !addr.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("invalid full address %q", addr))
		}
	}

	if req.Action == SessionTerminate {
		if !req.Reason.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("session-terminate with invalid reason %v", req.Reason))
		}
	} else if req.Reason != NoReason {
		errs = multierror.Append(errs, fmt.Errorf("reason %v is only allowed for session-terminate", req.Reason))
	}

	names := make(map[string]struct{}, len(req.Contents))
	for _, cd := range req.Contents {
		if cd.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("content without a name"))
		} else if _, dup := names[cd.Name]; dup {
			errs = multierror.Append(errs, fmt.Errorf("content %q is listed twice", cd.Name))
		}
		names[cd.Name] = struct{}{}

		if cd.Creator != 0 && !cd.Creator.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("content %q has invalid creator %v", cd.Name, cd.Creator))
		}
		if !cd.Senders.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("content %q has invalid senders %v", cd.Name, cd.Senders))
		}
	}

	switch req.Action {
	case SessionInitiate, SessionAccept:
		if !req.Initiator.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("%v without a valid initiator", req.Action))
		}
		fallthrough

	case ContentAdd, ContentAccept, ContentReject, ContentRemove, ContentModify,
		TransportReplace, TransportAccept, TransportReject, TransportInfo, DescriptionInfo, SecurityInfo:
		if len(req.Contents) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("%v without any content", req.Action))
		}
	}

	if req.Action == SessionInitiate || req.Action == ContentAdd {
		for _, cd := range req.Contents {
			if cd.Description.Namespace == "" || cd.Transport.Namespace == "" {
				errs = multierror.Append(errs,
					fmt.Errorf("content %q lacks a description or transport namespace", cd.Name))
			}
		}
	}

	return
}
