// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// ManagerConfig bundles a Manager's collaborators. Local, Sender, Adapters and Transports are required.
type ManagerConfig struct {
	// Local is this side's full address.
	Local Address

	// Sender hands outbound Requests to the messaging substrate.
	Sender Sender

	// Adapters is the connection's adapter Registry.
	Adapters *Registry

	// Transports is the registry of the local transport methods.
	Transports *TransportManagers

	// Descriptions decides about content-add offers; might be nil.
	Descriptions *DescriptionManagers

	// Journal records session snapshots on creation and termination; might be nil.
	Journal Journal

	// OnIncoming is called for each new responder Session after its session-initiate was handled; might be nil.
	// The callee decides to Accept or Terminate the Session.
	OnIncoming func(*Session)
}

// sessionKey identifies a Session from a Manager's point of view.
type sessionKey struct {
	peer Address
	sid  string
}

// Manager is the registry of all Sessions of one connection. It routes inbound Requests to their Session or creates
// a new responder Session for a session-initiate.
type Manager struct {
	env        *environment
	journal    Journal
	onIncoming func(*Session)

	// sessions: Map[sessionKey]*Session
	sessions *sync.Map
}

// NewManager creates a Manager for a ManagerConfig.
func NewManager(conf ManagerConfig) (*Manager, error) {
	if !conf.Local.Valid() {
		return nil, fmt.Errorf("invalid local address %q", conf.Local)
	}
	if conf.Sender == nil || conf.Adapters == nil || conf.Transports == nil {
		return nil, fmt.Errorf("manager requires a Sender, Adapters and Transports")
	}

	descriptions := conf.Descriptions
	if descriptions == nil {
		descriptions = NewDescriptionManagers()
	}

	return &Manager{
		env: &environment{
			local:        conf.Local,
			sender:       conf.Sender,
			adapters:     conf.Adapters,
			transports:   conf.Transports,
			descriptions: descriptions,
		},
		journal:    conf.Journal,
		onIncoming: conf.OnIncoming,
		sessions:   new(sync.Map),
	}, nil
}

// Local address of this Manager.
func (m *Manager) Local() Address {
	return m.env.local
}

// Route an inbound Request. Its Response is returned to be sent by the caller, while its follow-up Requests were
// already handed to the Sender.
func (m *Manager) Route(req Request) Response {
	resp, created := m.route(req)

	for _, followUp := range resp.FollowUps {
		if err := m.env.sender.Send(followUp); err != nil {
			log.WithError(err).WithField("request", followUp).Warn("Sending follow-up request errored")
		}
	}

	if created != nil && created.State() != SessionTerminated && m.onIncoming != nil {
		m.onIncoming(created)
	}
	return resp
}

// route returns the Response and, for a session-initiate, the newly registered Session.
func (m *Manager) route(req Request) (Response, *Session) {
	if err := req.CheckValid(); err != nil {
		log.WithError(err).WithField("request", req).Info("Manager received invalid request")
		return fail(req, errBadRequest("%v", err)), nil
	}

	key := sessionKey{peer: req.From, sid: req.SessionID}

	if s, ok := m.lookup(key); ok {
		return handled(s, req)
	}

	if req.Action != SessionInitiate {
		log.WithFields(log.Fields{
			"session": req.SessionID,
			"peer":    req.From,
			"action":  req.Action,
		}).Info("Request for an unknown session")
		return fail(req, errUnknownSession("unknown session %s", req.SessionID)), nil
	}

	s, cerr := newResponderSession(req, m.env)
	if cerr != nil {
		log.WithFields(log.Fields{
			"session": req.SessionID,
			"peer":    req.From,
			"reason":  cerr.reason,
		}).WithError(cerr.err).Info("Refusing session-initiate")

		return ack(req, terminateRequest(req, m.env.local, cerr.reason)), nil
	}
	s.onTerminate = m.sessionTerminated

	if existing, loaded := m.sessions.LoadOrStore(key, s); loaded {
		// Two session-initiates raced for the same key; the first one was registered.
		s.cancel()
		log.WithField("session", req.SessionID).Debug("Lost the race to register a session, forwarding request")

		return handled(existing.(*Session), req)
	}

	m.record(s)
	return handled(s, req)
}

// handled passes a Request to a Session and reports the Session as created if it acknowledged a session-initiate.
// Only a fresh Session acknowledges one, thus exactly one racing session-initiate reports the creation, no matter
// which registration path it took.
func handled(s *Session, req Request) (Response, *Session) {
	resp := s.Handle(req)
	if req.Action != SessionInitiate || !resp.IsAck() {
		return resp, nil
	}
	return resp, s
}

// Initiate a new Session to a peer, offering the proposed Contents.
func (m *Manager) Initiate(peer Address, proposals []ContentProposal) (*Session, error) {
	if !peer.Valid() {
		return nil, fmt.Errorf("invalid peer address %q", peer)
	}

	id := SessionID{
		Initiator: m.env.local,
		Responder: peer,
		SID:       uuid.NewString(),
	}

	s, req, err := newInitiatorSession(id, peer, proposals, m.env)
	if err != nil {
		return nil, err
	}
	s.onTerminate = m.sessionTerminated

	if _, loaded := m.sessions.LoadOrStore(sessionKey{peer: peer, sid: id.SID}, s); loaded {
		s.cancel()
		return nil, ErrSessionExists
	}

	m.record(s)
	s.send(req)
	return s, nil
}

func (m *Manager) lookup(key sessionKey) (*Session, bool) {
	s, ok := m.sessions.Load(key)
	if !ok {
		return nil, false
	}
	return s.(*Session), true
}

// Session returns the registered Session with a peer by its session id.
func (m *Manager) Session(peer Address, sid string) (*Session, bool) {
	return m.lookup(sessionKey{peer: peer, sid: sid})
}

// Sessions returns all registered Sessions.
func (m *Manager) Sessions() (sessions []*Session) {
	m.sessions.Range(func(_, v interface{}) bool {
		sessions = append(sessions, v.(*Session))
		return true
	})
	return
}

// Deregister a Session. Later Requests referencing it are answered as unknown-session.
func (m *Manager) Deregister(s *Session) {
	key := sessionKey{peer: s.peer, sid: s.id.SID}
	if v, ok := m.sessions.Load(key); ok && v.(*Session) == s {
		m.sessions.Delete(key)
		s.logger.Debug("Deregistered session")
	}
}

func (m *Manager) sessionTerminated(s *Session) {
	m.record(s)
	m.Deregister(s)
}

func (m *Manager) record(s *Session) {
	if m.journal == nil {
		return
	}

	if err := m.journal.Record(s.Snapshot()); err != nil {
		s.logger.WithError(err).Warn("Recording session snapshot errored")
	}
}

// Close terminates all registered Sessions with the reason gone.
func (m *Manager) Close() (errs error) {
	for _, s := range m.Sessions() {
		if err := s.Terminate(ReasonGone); err != nil && !errors.Is(err, ErrSessionTerminated) {
			errs = multierror.Append(errs, fmt.Errorf("session %v: %w", s.id, err))
		}
		m.Deregister(s)
	}
	return
}
