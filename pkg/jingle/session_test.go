// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"errors"
	"reflect"
	"testing"
)

// initiate starts a Session from romeo to juliet and delivers the session-initiate to juliet.
func initiate(t *testing.T, r, j *mockPeer, proposals ...ContentProposal) (rs *Session, initReq Request, resp Response) {
	t.Helper()

	rs, err := r.manager.Initiate(juliet, proposals)
	if err != nil {
		t.Fatal(err)
	}
	if state := rs.State(); state != SessionPending {
		t.Fatalf("Initiator session is %v", state)
	}

	initReq = r.sender.expect(t, SessionInitiate)
	resp = j.deliver(t, initReq)
	return
}

func responderSession(t *testing.T, j *mockPeer, sid string) *Session {
	t.Helper()

	s, ok := j.manager.Session(romeo, sid)
	if !ok {
		t.Fatalf("Responder has no session %s", sid)
	}
	return s
}

func TestSessionTransmission(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
	j := newMockPeer(t, juliet, ex, map[string]int{"X": 10})

	rs, initReq, resp := initiate(t, r, j, proposal("file", "hello juliet"))
	if len(resp.FollowUps) != 0 {
		t.Fatalf("Unexpected follow-ups: %v", resp.FollowUps)
	}

	js := responderSession(t, j, initReq.SessionID)
	if js.State() != SessionPending || js.Role() != Responder {
		t.Fatalf("Responder session is %v as %v", js.State(), js.Role())
	}

	if err := js.Accept(); err != nil {
		t.Fatal(err)
	}
	if err := js.Accept(); !errors.Is(err, ErrWrongState) {
		t.Fatalf("Second Accept returned %v", err)
	}

	r.deliver(t, j.sender.expect(t, SessionAccept))
	if state := rs.State(); state != SessionActive && state != SessionTerminated {
		t.Fatalf("Initiator session is %v after session-accept", state)
	}

	term := j.sender.expect(t, SessionTerminate)
	if term.Reason != ReasonSuccess {
		t.Fatalf("Expected success, got %v", term.Reason)
	}
	if js.State() != SessionTerminated {
		t.Fatalf("Responder session is %v", js.State())
	}

	r.deliver(t, term)
	waitState(t, rs, SessionTerminated)
	if rs.Reason() != ReasonSuccess {
		t.Fatalf("Initiator session ended with %v", rs.Reason())
	}

	if _, ok := r.manager.Session(juliet, initReq.SessionID); ok {
		t.Fatal("Terminated session is still registered")
	}

	if resp := r.manager.Route(term); resp.Error == nil || resp.Error.JingleCondition != JingleUnknownSession {
		t.Fatalf("Expected unknown-session for a terminated session, got %v", resp)
	}
}

func TestSessionOutOfOrder(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
	j := newMockPeer(t, juliet, ex, map[string]int{"X": 10})

	// A fresh session only accepts a session-initiate.
	fresh := newSession(SessionID{Initiator: romeo, Responder: juliet, SID: "fresh"}, Responder, romeo, j.manager.env)
	for _, action := range []Action{SessionAccept, SessionInfo, TransportAccept, ContentAdd} {
		req := Request{Action: action, SessionID: "fresh", From: romeo, To: juliet}
		if resp := fresh.Handle(req); resp.Error == nil || resp.Error.JingleCondition != JingleOutOfOrder {
			t.Fatalf("%v to a fresh session: %v", action, resp)
		}
		if fresh.State() != SessionFresh {
			t.Fatalf("State changed to %v", fresh.State())
		}
	}

	rs, initReq, _ := initiate(t, r, j, ContentProposal{
		Name:        "idle",
		Senders:     SendersNone,
		Description: newMockDescription(nil),
	})

	// A pending session refuses another session-initiate.
	if resp := j.manager.Route(initReq); resp.Error == nil || resp.Error.JingleCondition != JingleOutOfOrder {
		t.Fatalf("Second session-initiate: %v", resp)
	}

	js := responderSession(t, j, initReq.SessionID)
	if err := js.Accept(); err != nil {
		t.Fatal(err)
	}
	accept := j.sender.expect(t, SessionAccept)
	r.deliver(t, accept)

	if resp := r.manager.Route(accept); resp.Error == nil || resp.Error.JingleCondition != JingleOutOfOrder {
		t.Fatalf("Second session-accept: %v", resp)
	}
	if rs.State() != SessionActive {
		t.Fatalf("Session is %v", rs.State())
	}

	ping := Request{Action: SessionInfo, SessionID: initReq.SessionID, From: juliet, To: romeo}
	if resp := r.manager.Route(ping); !resp.IsAck() {
		t.Fatalf("session-info ping: %v", resp)
	}

	unknown := Request{
		Action:    TransportInfo,
		SessionID: initReq.SessionID,
		From:      juliet,
		To:        romeo,
		Contents:  []ContentDescriptor{{Name: "nope", Transport: Payload{Namespace: "X"}}},
	}
	if resp := r.manager.Route(unknown); resp.Error == nil || resp.Error.Condition != ConditionItemNotFound {
		t.Fatalf("Unknown content: %v", resp)
	}
}

// TestSessionFallbackTransport covers a responder lacking the offered transport method, but having another one.
func TestSessionFallbackTransport(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10, "Y": 5})
	j := newMockPeer(t, juliet, ex, map[string]int{"Y": 5})

	rs, initReq, resp := initiate(t, r, j, proposal("file", "via Y"))
	if initReq.Contents[0].Transport.Namespace != "X" {
		t.Fatalf("Initiator did not use its best transport: %v", initReq.Contents[0].Transport)
	}

	if len(resp.FollowUps) != 1 || resp.FollowUps[0].Action != TransportReplace {
		t.Fatalf("Expected a transport-replace follow-up, got %v", resp.FollowUps)
	}

	js := responderSession(t, j, initReq.SessionID)
	if js.State() != SessionFallbackPending {
		t.Fatalf("Responder session is %v", js.State())
	}

	c, _ := js.Content("file")
	if bl := c.Blacklist(); !reflect.DeepEqual(bl, []string{"X"}) {
		t.Fatalf("Blacklist is %v", bl)
	}
	if pa, ok := js.PendingAction("file"); !ok {
		t.Fatal("No pending action")
	} else if ptr := pa.(PendingTransportReplace); ptr.Transport.Namespace() != "Y" {
		t.Fatalf("Pending %v", ptr)
	}

	replace := j.sender.expect(t, TransportReplace)
	if ns := replace.Contents[0].Transport.Namespace; ns != "Y" {
		t.Fatalf("Fallback proposes %q", ns)
	}

	r.deliver(t, replace)
	transportAccept := r.sender.expect(t, TransportAccept)

	j.deliver(t, transportAccept)
	if js.State() != SessionPending {
		t.Fatalf("Responder session is %v after transport-accept", js.State())
	}
	if _, ok := js.PendingAction("file"); ok {
		t.Fatal("Pending action survived transport-accept")
	}
	tY := c.Transport()

	// A second transport-accept has no pending action and changes nothing.
	j.deliver(t, transportAccept)
	if c.Transport() != tY || js.State() != SessionPending {
		t.Fatal("Repeated transport-accept changed the content")
	}

	// Blacklisted methods are always rejected.
	replaceX := Request{
		Action:    TransportReplace,
		SessionID: initReq.SessionID,
		Initiator: romeo,
		Responder: juliet,
		From:      romeo,
		To:        juliet,
		Contents: []ContentDescriptor{{
			Name:      "file",
			Creator:   Initiator,
			Senders:   SendersInitiator,
			Transport: Payload{Namespace: "X", Data: []byte("token")},
		}},
	}
	if resp := j.deliver(t, replaceX); len(resp.FollowUps) != 1 || resp.FollowUps[0].Action != TransportReject {
		t.Fatalf("Expected transport-reject, got %v", resp.FollowUps)
	}
	j.sender.expect(t, TransportReject)
	if c.Transport() != tY {
		t.Fatal("Rejected transport was installed")
	}

	if err := js.Accept(); err != nil {
		t.Fatal(err)
	}
	accept := j.sender.expect(t, SessionAccept)
	if ns := accept.Contents[0].Transport.Namespace; ns != "Y" {
		t.Fatalf("session-accept names transport %q", ns)
	}
	r.deliver(t, accept)

	term := j.sender.expect(t, SessionTerminate)
	if term.Reason != ReasonSuccess {
		t.Fatalf("Session ended with %v", term.Reason)
	}
	r.deliver(t, term)
	waitState(t, rs, SessionTerminated)
}

func TestSessionUnsupportedTransports(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
	j := newMockPeer(t, juliet, ex, nil)

	_, initReq, resp := initiate(t, r, j, proposal("file", "nothing"))
	if len(resp.FollowUps) != 1 {
		t.Fatalf("Expected one follow-up, got %v", resp.FollowUps)
	}
	if term := resp.FollowUps[0]; term.Action != SessionTerminate || term.Reason != ReasonUnsupportedTransports {
		t.Fatalf("Expected unsupported-transports, got %v", term)
	}
	j.sender.expect(t, SessionTerminate)

	if _, ok := j.manager.Session(romeo, initReq.SessionID); ok {
		t.Fatal("Failed session was registered")
	}
}

func TestSessionUnsupportedApplications(t *testing.T) {
	ex := newMockExchange()
	j := newMockPeer(t, juliet, ex, map[string]int{"X": 10})

	req := Request{
		Action:    SessionInitiate,
		SessionID: "sid",
		Initiator: romeo,
		Responder: juliet,
		From:      romeo,
		To:        juliet,
		Contents: []ContentDescriptor{{
			Name:        "call",
			Creator:     Initiator,
			Description: Payload{Namespace: "urn:xmpp:jingle:apps:rtp:1"},
			Transport:   Payload{Namespace: "X", Data: []byte("token")},
		}},
	}

	resp := j.deliver(t, req)
	if len(resp.FollowUps) != 1 || resp.FollowUps[0].Reason != ReasonUnsupportedApplications {
		t.Fatalf("Expected unsupported-applications, got %v", resp.FollowUps)
	}
}

// TestSessionTransportExhausted lets the initiator's bytestream fail and the responder reject the replacement.
func TestSessionTransportExhausted(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10, "Y": 5})
	j := newMockPeer(t, juliet, ex, map[string]int{"X": 10, "Y": 5})
	r.methods["X"].setFail(true)

	rs, initReq, _ := initiate(t, r, j, proposal("file", "never"))
	js := responderSession(t, j, initReq.SessionID)
	if err := js.Accept(); err != nil {
		t.Fatal(err)
	}
	r.deliver(t, j.sender.expect(t, SessionAccept))

	replace := r.sender.expect(t, TransportReplace)
	if ns := replace.Contents[0].Transport.Namespace; ns != "Y" {
		t.Fatalf("Replacement proposes %q", ns)
	}

	c, _ := rs.Content("file")
	if bl := c.Blacklist(); !reflect.DeepEqual(bl, []string{"X"}) {
		t.Fatalf("Blacklist is %v", bl)
	}
	if _, ok := rs.PendingAction("file"); !ok {
		t.Fatal("No pending action was recorded")
	}

	rs.mutex.Lock()
	_, err := rs.replaceTransportLocked(c)
	rs.mutex.Unlock()
	if !errors.Is(err, ErrPendingActionExists) {
		t.Fatalf("Second replacement returned %v", err)
	}

	reject := replace
	reject.Action = TransportReject
	reject.From, reject.To = juliet, romeo
	r.deliver(t, reject)

	if bl := c.Blacklist(); !reflect.DeepEqual(bl, []string{"X", "Y"}) {
		t.Fatalf("Blacklist is %v", bl)
	}

	term := r.sender.expect(t, SessionTerminate)
	if term.Reason != ReasonFailedTransport {
		t.Fatalf("Session ended with %v", term.Reason)
	}
	if rs.State() != SessionTerminated || rs.Reason() != ReasonFailedTransport {
		t.Fatalf("Session is %v with %v", rs.State(), rs.Reason())
	}
}

// TestSessionTerminateCancelsEstablishment terminates while the responder waits for its bytestream.
func TestSessionTerminateCancelsEstablishment(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
	j := newMockPeer(t, juliet, ex, map[string]int{"X": 10})

	_, initReq, _ := initiate(t, r, j, proposal("file", "too late"))
	js := responderSession(t, j, initReq.SessionID)
	if err := js.Accept(); err != nil {
		t.Fatal(err)
	}
	j.sender.expect(t, SessionAccept)

	term := Request{
		Action:    SessionTerminate,
		SessionID: initReq.SessionID,
		From:      romeo,
		To:        juliet,
		Reason:    ReasonSuccess,
	}
	j.deliver(t, term)

	<-js.Done()
	j.sender.quiet(t)

	if js.State() != SessionTerminated || js.Reason() != ReasonSuccess {
		t.Fatalf("Session is %v with %v", js.State(), js.Reason())
	}
	c, _ := js.Content("file")
	if c.State() != ContentTransmissionCancelled {
		t.Fatalf("Content is %v", c.State())
	}
}

func TestSessionTransportReplaceTieBreak(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10, "Y": 5})
	j := newMockPeer(t, juliet, ex, map[string]int{"Y": 5})

	_, initReq, _ := initiate(t, r, j, proposal("file", "tie"))
	js := responderSession(t, j, initReq.SessionID)
	replace := j.sender.expect(t, TransportReplace)

	// The initiator's own replacement crosses the responder's.
	ownReplace := Request{
		Action:    TransportReplace,
		SessionID: initReq.SessionID,
		Initiator: romeo,
		Responder: juliet,
		From:      romeo,
		To:        juliet,
		Contents: []ContentDescriptor{{
			Name:      "file",
			Creator:   Initiator,
			Senders:   SendersInitiator,
			Transport: Payload{Namespace: "Y", Data: []byte("romeos-token")},
		}},
	}
	resp := j.deliver(t, ownReplace)
	if len(resp.FollowUps) != 1 || resp.FollowUps[0].Action != TransportAccept {
		t.Fatalf("Responder did not yield: %v", resp.FollowUps)
	}
	j.sender.expect(t, TransportAccept)

	if _, ok := js.PendingAction("file"); ok {
		t.Fatal("Responder kept its pending action")
	}
	if js.State() != SessionPending {
		t.Fatalf("Responder session is %v", js.State())
	}

	// The initiator rejects a responder's replace while its own is outstanding.
	rs, _ := r.manager.Session(juliet, initReq.SessionID)
	c, _ := rs.Content("file")
	rs.mutex.Lock()
	if err := rs.addPending(PendingTransportReplace{Content: "file", Transport: c.Transport()}); err != nil {
		t.Fatal(err)
	}
	rs.mutex.Unlock()

	resp = r.deliver(t, replace)
	if len(resp.FollowUps) != 1 || resp.FollowUps[0].Action != TransportReject {
		t.Fatalf("Initiator did not reject: %v", resp.FollowUps)
	}
}

func TestSessionContentAdd(t *testing.T) {
	tests := []struct {
		name    string
		manager *mockDescriptionManager
		answer  Action
	}{
		{"accept", &mockDescriptionManager{accept: true}, ContentAccept},
		{"reject", &mockDescriptionManager{accept: false}, ContentReject},
		{"unmanaged", nil, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ex := newMockExchange()
			r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
			j := newMockPeer(t, juliet, ex, map[string]int{"X": 10})
			if test.manager != nil {
				j.dms.Register(test.manager)
			}

			rs, initReq, _ := initiate(t, r, j, ContentProposal{
				Name:        "idle",
				Senders:     SendersNone,
				Description: newMockDescription(nil),
			})
			js := responderSession(t, j, initReq.SessionID)
			if err := js.Accept(); err != nil {
				t.Fatal(err)
			}
			r.deliver(t, j.sender.expect(t, SessionAccept))

			if err := rs.AddContent(proposal("idle", "duplicate")); err == nil {
				t.Fatal("Duplicate content name was accepted")
			}
			if err := rs.AddContent(proposal("second", "added later")); err != nil {
				t.Fatal(err)
			}
			j.deliver(t, r.sender.expect(t, ContentAdd))

			if test.answer == 0 {
				j.sender.quiet(t)
				if _, ok := js.Content("second"); ok {
					t.Fatal("Unmanaged content was merged")
				}
				return
			}

			answer := j.sender.expect(t, test.answer)
			if names := answer.ContentNames(); !reflect.DeepEqual(names, []string{"second"}) {
				t.Fatalf("Answer covers %v", names)
			}
			r.deliver(t, answer)

			if len(test.manager.offers) != 1 || test.manager.offers[0].Name != "second" {
				t.Fatalf("Offers: %v", test.manager.offers)
			}

			switch test.answer {
			case ContentAccept:
				if _, ok := js.Content("second"); !ok {
					t.Fatal("Accepted content is missing at the responder")
				}
				if len(rs.Contents()) != 2 {
					t.Fatalf("Initiator has %d contents", len(rs.Contents()))
				}

			case ContentReject:
				if _, ok := rs.Content("second"); ok {
					t.Fatal("Rejected content is still proposed")
				}
				if rs.State() != SessionActive {
					t.Fatalf("Session is %v", rs.State())
				}
			}
		})
	}
}

func TestSessionRemoveContent(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
	j := newMockPeer(t, juliet, ex, map[string]int{"X": 10})

	rs, initReq, _ := initiate(t, r, j, ContentProposal{
		Name:        "idle",
		Senders:     SendersNone,
		Description: newMockDescription(nil),
	})
	js := responderSession(t, j, initReq.SessionID)

	if err := rs.RemoveContent("unknown"); !errors.Is(err, ErrUnknownContent) {
		t.Fatalf("Removing an unknown content returned %v", err)
	}
	if err := rs.RemoveContent("idle"); err != nil {
		t.Fatal(err)
	}

	j.deliver(t, r.sender.expect(t, ContentRemove))
	if term := r.sender.expect(t, SessionTerminate); term.Reason != ReasonCancel {
		t.Fatalf("Session ended with %v", term.Reason)
	}
	if js.State() != SessionTerminated || js.Reason() != ReasonCancel {
		t.Fatalf("Responder session is %v with %v", js.State(), js.Reason())
	}
}

func TestSessionSnapshot(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10, "Y": 5})
	j := newMockPeer(t, juliet, ex, map[string]int{"Y": 5})

	_, initReq, _ := initiate(t, r, j, proposal("b", "2"), proposal("a", "1"))
	snap := responderSession(t, j, initReq.SessionID).Snapshot()

	if snap.State != SessionFallbackPending || snap.Role != Responder || snap.Peer != romeo {
		t.Fatalf("Snapshot %+v", snap)
	}
	if len(snap.Contents) != 2 || snap.Contents[0].Name != "a" || snap.Contents[1].Name != "b" {
		t.Fatalf("Snapshot contents %+v", snap.Contents)
	}
	for _, cs := range snap.Contents {
		if cs.Pending == "" || !reflect.DeepEqual(cs.Blacklist, []string{"X"}) || cs.Description != mockDescriptionNs {
			t.Fatalf("Content snapshot %+v", cs)
		}
	}
}
