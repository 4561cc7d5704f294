// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"sync"
	"sync/atomic"
	"testing"
)

type mockJournal struct {
	mutex sync.Mutex
	snaps []SessionSnapshot
}

func (mj *mockJournal) Record(snap SessionSnapshot) error {
	mj.mutex.Lock()
	defer mj.mutex.Unlock()

	mj.snaps = append(mj.snaps, snap)
	return nil
}

func TestNewManagerInvalid(t *testing.T) {
	tests := []ManagerConfig{
		{},
		{Local: "no-resource", Sender: newMockSender(), Adapters: NewRegistry(), Transports: NewTransportManagers()},
		{Local: juliet, Adapters: NewRegistry(), Transports: NewTransportManagers()},
		{Local: juliet, Sender: newMockSender(), Transports: NewTransportManagers()},
	}

	for i, conf := range tests {
		if _, err := NewManager(conf); err == nil {
			t.Fatalf("Config %d was accepted", i)
		}
	}
}

func TestManagerRouteInvalid(t *testing.T) {
	j := newMockPeer(t, juliet, newMockExchange(), map[string]int{"X": 10})

	tests := []struct {
		name string
		req  Request
		cond Condition
		jc   JingleCondition
	}{
		{"invalid action", Request{Action: 0, SessionID: "s", From: romeo, To: juliet}, ConditionBadRequest, NoJingleCondition},
		{"invalid reason", Request{Action: SessionTerminate, SessionID: "s", From: romeo, To: juliet, Reason: 42}, ConditionBadRequest, NoJingleCondition},
		{"unknown session", Request{Action: SessionTerminate, SessionID: "s", From: romeo, To: juliet, Reason: ReasonSuccess}, ConditionItemNotFound, JingleUnknownSession},
		{"unknown session info", Request{Action: SessionInfo, SessionID: "s", From: romeo, To: juliet}, ConditionItemNotFound, JingleUnknownSession},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resp := j.manager.Route(test.req)
			if resp.IsAck() {
				t.Fatalf("Request was acknowledged: %v", resp)
			}
			if resp.Error.Condition != test.cond || resp.Error.JingleCondition != test.jc {
				t.Fatalf("Expected %s/%s, got %v", test.cond, test.jc, resp.Error)
			}
			if len(j.manager.Sessions()) != 0 {
				t.Fatal("A session was created")
			}
		})
	}
}

func TestManagerInitiateRace(t *testing.T) {
	const racers = 8

	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
	j := newMockPeer(t, juliet, ex, map[string]int{"X": 10})

	if _, err := r.manager.Initiate(juliet, []ContentProposal{proposal("file", "race")}); err != nil {
		t.Fatal(err)
	}
	initReq := r.sender.expect(t, SessionInitiate)

	var incoming int32
	j.manager.onIncoming = func(*Session) { atomic.AddInt32(&incoming, 1) }

	var wg sync.WaitGroup
	resps := make([]Response, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resps[i] = j.manager.Route(initReq)
		}(i)
	}
	wg.Wait()

	acks := 0
	for _, resp := range resps {
		if resp.IsAck() {
			acks++
		} else if resp.Error.JingleCondition != JingleOutOfOrder {
			t.Fatalf("Loser got %v", resp.Error)
		}
	}
	if acks != 1 {
		t.Fatalf("%d session-initiates were acknowledged", acks)
	}
	if n := len(j.manager.Sessions()); n != 1 {
		t.Fatalf("%d sessions are registered", n)
	}
	if n := atomic.LoadInt32(&incoming); n != 1 {
		t.Fatalf("OnIncoming was called %d times", n)
	}
}

// TestManagerOnIncomingRegisteredFresh hands a session-initiate to a Session registered by a racing Route call,
// which did not handle its own session-initiate yet.
func TestManagerOnIncomingRegisteredFresh(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
	j := newMockPeer(t, juliet, ex, map[string]int{"X": 10})

	incoming := make(chan *Session, 2)
	j.manager.onIncoming = func(s *Session) { incoming <- s }

	if _, err := r.manager.Initiate(juliet, []ContentProposal{proposal("file", "fresh")}); err != nil {
		t.Fatal(err)
	}
	initReq := r.sender.expect(t, SessionInitiate)

	fresh, cerr := newResponderSession(initReq, j.manager.env)
	if cerr != nil {
		t.Fatal(cerr)
	}
	fresh.onTerminate = j.manager.sessionTerminated
	j.manager.sessions.Store(sessionKey{peer: romeo, sid: initReq.SessionID}, fresh)

	j.deliver(t, initReq)

	select {
	case s := <-incoming:
		if s != fresh || s.State() != SessionPending {
			t.Fatalf("OnIncoming got %v in %v", s.ID(), s.State())
		}
	default:
		t.Fatal("OnIncoming was not called")
	}

	if resp := j.manager.Route(initReq); resp.IsAck() {
		t.Fatal("Second session-initiate was acknowledged")
	}
	if len(incoming) != 0 {
		t.Fatal("OnIncoming was called twice")
	}
}

func TestManagerInitiateInvalid(t *testing.T) {
	r := newMockPeer(t, romeo, newMockExchange(), map[string]int{"X": 10})

	tests := []struct {
		name      string
		peer      Address
		proposals []ContentProposal
	}{
		{"invalid peer", "juliet", []ContentProposal{proposal("file", "")}},
		{"no contents", juliet, nil},
		{"duplicate contents", juliet, []ContentProposal{proposal("file", ""), proposal("file", "")}},
		{"no description", juliet, []ContentProposal{{Name: "file"}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := r.manager.Initiate(test.peer, test.proposals); err == nil {
				t.Fatal("Initiate did not fail")
			}
			if len(r.manager.Sessions()) != 0 {
				t.Fatal("A session was registered")
			}
		})
	}

	empty := newMockPeer(t, romeo, newMockExchange(), nil)
	if _, err := empty.manager.Initiate(juliet, []ContentProposal{proposal("file", "")}); err == nil {
		t.Fatal("Initiate without transport methods did not fail")
	}
}

func TestManagerClose(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10})
	journal := new(mockJournal)
	r.manager.journal = journal

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := r.manager.Initiate(juliet, []ContentProposal{proposal("file", "bye")})
		if err != nil {
			t.Fatal(err)
		}
		r.sender.expect(t, SessionInitiate)
		sessions = append(sessions, s)
	}

	if err := sessions[0].Terminate(ReasonDecline); err != nil {
		t.Fatal(err)
	}
	r.sender.expect(t, SessionTerminate)

	if err := r.manager.Close(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if term := r.sender.expect(t, SessionTerminate); term.Reason != ReasonGone {
			t.Fatalf("Session closed with %v", term.Reason)
		}
	}
	for _, s := range sessions[1:] {
		if s.Reason() != ReasonGone {
			t.Fatalf("Session ended with %v", s.Reason())
		}
	}
	if len(r.manager.Sessions()) != 0 {
		t.Fatal("Sessions survived Close")
	}

	// Three creations and three terminations.
	if len(journal.snaps) != 6 {
		t.Fatalf("Journal has %d records", len(journal.snaps))
	}
}

func TestManagerOnIncomingDeferredAccept(t *testing.T) {
	ex := newMockExchange()
	r := newMockPeer(t, romeo, ex, map[string]int{"X": 10, "Y": 5})
	j := newMockPeer(t, juliet, ex, map[string]int{"Y": 5})

	incoming := make(chan *Session, 1)
	j.manager.onIncoming = func(s *Session) {
		if err := s.Accept(); err != nil {
			t.Error(err)
		}
		incoming <- s
	}

	rs, _, _ := initiate(t, r, j, proposal("file", "deferred"))
	js := <-incoming
	if js.State() != SessionFallbackPending {
		t.Fatalf("Responder session is %v", js.State())
	}

	r.deliver(t, j.sender.expect(t, TransportReplace))
	j.deliver(t, r.sender.expect(t, TransportAccept))

	accept := j.sender.expect(t, SessionAccept)
	if js.State() != SessionActive {
		t.Fatalf("Responder session is %v after deferred accept", js.State())
	}

	r.deliver(t, accept)
	r.deliver(t, j.sender.expect(t, SessionTerminate))
	waitState(t, rs, SessionTerminated)
	if rs.Reason() != ReasonSuccess {
		t.Fatalf("Session ended with %v", rs.Reason())
	}
}
