// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Sender hands outbound Requests to the messaging substrate. Send must not block on the peer's answer.
type Sender interface {
	Send(req Request) error
}

// environment is shared by a Manager and all of its Sessions.
type environment struct {
	local        Address
	sender       Sender
	adapters     *Registry
	transports   *TransportManagers
	descriptions *DescriptionManagers
}

// Session is one Jingle session, identified by its initiator, responder and session id. It exclusively owns its
// Contents and is the only dispatcher of inbound Requests to them.
//
// All state transitions happen while holding the Session's mutex. Side effects, e.g., sending Requests or starting
// bytestream establishments, are collected and executed after the mutex was released.
type Session struct {
	id    SessionID
	role  Role
	peer  Address
	local Address

	env *environment

	// ctx is cancelled when the Session terminates, which aborts all outstanding establishments.
	ctx    context.Context
	cancel context.CancelFunc

	mutex    sync.Mutex
	state    SessionState
	reason   Reason
	contents map[string]*Content
	proposed map[string]*Content
	pending  map[string]PendingAction
	effects  []func()

	// acceptDeferred is set by Accept while fallback transports are negotiated.
	acceptDeferred bool

	created    time.Time
	terminated time.Time

	// onTerminate is called once, after the Session reached SessionTerminated.
	onTerminate func(*Session)

	logger *log.Entry
}

func newSession(id SessionID, role Role, peer Address, env *environment) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:    id,
		role:  role,
		peer:  peer,
		local: env.local,

		env: env,

		ctx:    ctx,
		cancel: cancel,

		state:    SessionFresh,
		contents: make(map[string]*Content),
		proposed: make(map[string]*Content),
		pending:  make(map[string]PendingAction),

		created: time.Now(),
	}
	s.logger = log.WithFields(log.Fields{
		"session": id.SID,
		"peer":    peer,
		"role":    role,
	})
	return s
}

// ID of this Session.
func (s *Session) ID() SessionID {
	return s.id
}

// Role of this side within the Session.
func (s *Session) Role() Role {
	return s.role
}

// Peer is the other party's full address.
func (s *Session) Peer() Address {
	return s.peer
}

// State of this Session.
func (s *Session) State() SessionState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.state
}

// Reason returns the termination reason, NoReason for a non-terminated Session.
func (s *Session) Reason() Reason {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.reason
}

// Done is closed after the Session was terminated.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Content returns an accepted or proposed Content by its name.
func (s *Session) Content(name string) (*Content, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if c, ok := s.contents[name]; ok {
		return c, true
	}
	c, ok := s.proposed[name]
	return c, ok
}

// Contents returns all accepted Contents.
func (s *Session) Contents() []*Content {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cs := make([]*Content, 0, len(s.contents))
	for _, c := range s.contents {
		cs = append(cs, c)
	}
	return cs
}

// PendingAction returns the outstanding action for a Content, if any.
func (s *Session) PendingAction(name string) (PendingAction, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	pa, ok := s.pending[name]
	return pa, ok
}

// later queues a side effect. The mutex must be held.
func (s *Session) later(f func()) {
	s.effects = append(s.effects, f)
}

// unlockAndFlush releases the mutex and executes the queued side effects.
func (s *Session) unlockAndFlush() {
	effects := s.effects
	s.effects = nil
	s.mutex.Unlock()

	for _, f := range effects {
		f()
	}
}

// addContent inserts a Content and binds it to this Session. The mutex must be held.
func (s *Session) addContent(c *Content) {
	c.bind(s.id)
	s.contents[c.name] = c
}

// addPending records a PendingAction, refusing a second one for the same Content. The mutex must be held.
func (s *Session) addPending(pa PendingAction) error {
	if existing, ok := s.pending[pa.ContentName()]; ok {
		s.logger.WithFields(log.Fields{
			"content":  pa.ContentName(),
			"pending":  existing,
			"rejected": pa,
		}).Warn("Refusing a second pending action for a content")
		return ErrPendingActionExists
	}

	s.pending[pa.ContentName()] = pa
	return nil
}

func (s *Session) send(req Request) {
	if err := s.env.sender.Send(req); err != nil {
		s.logger.WithError(err).WithField("request", req).Warn("Sending request errored")
	} else {
		s.logger.WithField("request", req).Debug("Sent request")
	}
}

// request creates an outbound Request of this Session.
func (s *Session) request(action Action) Request {
	return Request{
		ID:        uuid.NewString(),
		Action:    action,
		SessionID: s.id.SID,
		Initiator: s.id.Initiator,
		Responder: s.id.Responder,
		From:      s.local,
		To:        s.peer,
	}
}

// descriptorParts selects the parts of a ContentDescriptor to be serialized.
type descriptorParts uint

const (
	withDescription descriptorParts = 1 << iota
	withTransport
	withSecurity

	withEverything = withDescription | withTransport | withSecurity
)

// descriptor serializes a Content. A Transport might be given to be used instead of the installed one.
func (s *Session) descriptor(c *Content, parts descriptorParts, t Transport) (cd ContentDescriptor, err error) {
	cd = ContentDescriptor{
		Name:        c.name,
		Creator:     c.creator,
		Senders:     c.Senders(),
		Disposition: c.disposition,
	}

	if parts&withDescription != 0 && c.Description() != nil {
		if cd.Description, err = s.env.adapters.DescriptionPayload(c.Description()); err != nil {
			return
		}
	}

	if t == nil {
		t = c.Transport()
	}
	if parts&withTransport != 0 && t != nil {
		if cd.Transport, err = s.env.adapters.TransportPayload(t); err != nil {
			return
		}
	}

	if parts&withSecurity != 0 && c.Security() != nil {
		var p Payload
		if p, err = s.env.adapters.SecurityPayload(c.Security()); err != nil {
			return
		}
		cd.Security = &p
	}
	return
}

// terminateLocked moves the Session into its absorbing state. The mutex must be held.
func (s *Session) terminateLocked(reason Reason, notifyPeer bool) {
	if s.state == SessionTerminated {
		return
	}

	s.logger.WithFields(log.Fields{
		"reason":      reason,
		"notify peer": notifyPeer,
	}).Info("Terminating session")

	s.state = SessionTerminated
	s.reason = reason
	s.terminated = time.Now()

	for _, cs := range []map[string]*Content{s.contents, s.proposed} {
		for _, c := range cs {
			c.setState(ContentTransmissionCancelled)
		}
	}
	s.pending = make(map[string]PendingAction)

	s.cancel()

	if notifyPeer {
		req := s.request(SessionTerminate)
		req.Reason = reason
		s.later(func() { s.send(req) })
	}

	if s.onTerminate != nil {
		hook := s.onTerminate
		s.later(func() { hook(s) })
	}
}

// Terminate this Session locally, informing the peer.
func (s *Session) Terminate(reason Reason) error {
	if !reason.Valid() {
		return fmt.Errorf("invalid termination reason %v", reason)
	}

	s.mutex.Lock()
	if s.state == SessionTerminated {
		s.mutex.Unlock()
		return ErrSessionTerminated
	}

	s.terminateLocked(reason, true)
	s.unlockAndFlush()
	return nil
}

// Accept this Session as its responder by sending a session-accept. Afterwards, the bytestreams are established. While
// fallback transports are still negotiated, the session-accept is deferred until they are settled.
func (s *Session) Accept() error {
	s.mutex.Lock()

	if s.role != Responder {
		s.mutex.Unlock()
		return fmt.Errorf("only the responder accepts a session: %w", ErrWrongState)
	}

	var err error
	switch s.state {
	case SessionTerminated:
		err = ErrSessionTerminated
	case SessionFallbackPending:
		s.acceptDeferred = true
		s.logger.Info("Deferring session-accept until fallback transports are settled")
	case SessionPending:
		err = s.acceptLocked()
	default:
		err = fmt.Errorf("cannot accept a %v session: %w", s.state, ErrWrongState)
	}

	s.unlockAndFlush()
	return err
}

// acceptLocked sends the session-accept and starts the transmissions. The mutex must be held.
func (s *Session) acceptLocked() error {
	req := s.request(SessionAccept)
	for _, c := range s.contents {
		cd, err := s.descriptor(c, withEverything, nil)
		if err != nil {
			return err
		}
		req.Contents = append(req.Contents, cd)
	}

	s.state = SessionActive
	s.acceptDeferred = false
	s.later(func() { s.send(req) })
	s.startTransmissionsLocked()

	s.logger.Info("Accepted session")
	return nil
}

// startTransmissionsLocked starts the bytestream establishment of each Content which has neither a pending action
// nor already left its negotiation. The mutex must be held.
func (s *Session) startTransmissionsLocked() {
	for _, c := range s.contents {
		if _, pending := s.pending[c.name]; pending {
			continue
		}

		switch c.State() {
		case ContentPendingAccept, ContentPendingTransmissionStart:
			c.setState(ContentPendingTransmissionStart)
			s.establishLocked(c)
		}
	}
}

// ContentProposal describes a local Content to be proposed to the peer.
type ContentProposal struct {
	Name        string
	Senders     Senders
	Disposition string

	Description Description
	Security    Security
}

// newLocalContent creates a Content for a ContentProposal, using the best available transport method.
func (s *Session) newLocalContent(p ContentProposal) (*Content, error) {
	if p.Description == nil {
		return nil, fmt.Errorf("content %q has no description", p.Name)
	}

	c := newContent(p.Name, s.role, p.Senders, p.Disposition)
	c.bind(s.id)
	c.setDescription(p.Description)
	c.SetSecurity(p.Security)

	tm, ok := s.env.transports.Best(nil)
	if !ok {
		return nil, ErrNoTransportMethod
	}
	t, err := tm.CreateTransport(c.Ref())
	if err != nil {
		return nil, err
	}
	c.SetTransport(t)

	return c, nil
}

// AddContent proposes another Content to the peer by a content-add. It is merged into the Session after the peer's
// content-accept.
func (s *Session) AddContent(p ContentProposal) error {
	s.mutex.Lock()

	if s.state == SessionTerminated {
		s.mutex.Unlock()
		return ErrSessionTerminated
	} else if s.state != SessionActive {
		s.mutex.Unlock()
		return fmt.Errorf("content-add requires an active session: %w", ErrWrongState)
	}

	if _, exists := s.contents[p.Name]; exists {
		s.mutex.Unlock()
		return fmt.Errorf("content %q already exists", p.Name)
	} else if _, exists := s.proposed[p.Name]; exists {
		s.mutex.Unlock()
		return fmt.Errorf("content %q was already proposed", p.Name)
	}

	c, err := s.newLocalContent(p)
	if err != nil {
		s.mutex.Unlock()
		return err
	}

	cd, err := s.descriptor(c, withEverything, nil)
	if err != nil {
		s.mutex.Unlock()
		return err
	}

	s.proposed[c.name] = c

	req := s.request(ContentAdd)
	req.Contents = []ContentDescriptor{cd}
	s.later(func() { s.send(req) })

	s.logger.WithField("content", c.name).Info("Proposed content")
	s.unlockAndFlush()
	return nil
}

// RemoveContent removes a Content and informs the peer by a content-remove. A Session without any Content is
// terminated.
func (s *Session) RemoveContent(name string) error {
	s.mutex.Lock()

	if s.state == SessionTerminated {
		s.mutex.Unlock()
		return ErrSessionTerminated
	}

	c, ok := s.contents[name]
	if !ok {
		c, ok = s.proposed[name]
	}
	if !ok {
		s.mutex.Unlock()
		return fmt.Errorf("content %q: %w", name, ErrUnknownContent)
	}

	req := s.request(ContentRemove)
	req.Contents = []ContentDescriptor{{Name: c.name, Creator: c.creator, Senders: c.Senders()}}
	s.later(func() { s.send(req) })

	s.removeContentLocked(c)
	s.unlockAndFlush()
	return nil
}

// removeContentLocked drops a Content, cancelling its transmission. The mutex must be held.
func (s *Session) removeContentLocked(c *Content) {
	delete(s.contents, c.name)
	delete(s.proposed, c.name)
	delete(s.pending, c.name)

	c.setState(ContentTransmissionCancelled)
	c.abortAttempt()

	s.logger.WithField("content", c.name).Info("Removed content")

	if len(s.contents) == 0 && len(s.proposed) == 0 {
		s.terminateLocked(ReasonCancel, true)
	}
}

// lookupContents resolves all ContentDescriptors of a Request against the accepted Contents. An unknown name is a
// violation by the peer and loudly reported.
func (s *Session) lookupContents(req Request) ([]*Content, *ProtocolError) {
	cs := make([]*Content, 0, len(req.Contents))
	for _, cd := range req.Contents {
		c, ok := s.contents[cd.Name]
		if !ok {
			s.logger.WithFields(log.Fields{
				"content": cd.Name,
				"action":  req.Action,
			}).Error("Request references an unknown content")
			return nil, errItemNotFound("unknown content %q", cd.Name)
		}
		cs = append(cs, c)
	}
	return cs, nil
}

// Snapshot returns the inspectable state of this Session.
func (s *Session) Snapshot() SessionSnapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snap := SessionSnapshot{
		ID:         s.id,
		Role:       s.role,
		Peer:       s.peer,
		State:      s.state,
		Reason:     s.reason,
		Created:    s.created,
		Terminated: s.terminated,
	}

	for _, cs := range []map[string]*Content{s.contents, s.proposed} {
		for _, c := range cs {
			cSnap := ContentSnapshot{
				Name:      c.name,
				Creator:   c.creator,
				Senders:   c.Senders(),
				State:     c.State(),
				Blacklist: c.Blacklist(),
				Proposed:  s.proposed[c.name] == c,
			}
			if t := c.Transport(); t != nil {
				cSnap.Transport = t.Namespace()
			}
			if d := c.Description(); d != nil {
				cSnap.Description = d.Namespace()
			}
			if pa, ok := s.pending[c.name]; ok {
				cSnap.Pending = pa.String()
			}
			snap.Contents = append(snap.Contents, cSnap)
		}
	}
	sortContentSnapshots(snap.Contents)

	return snap
}
