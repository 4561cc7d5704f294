// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// constructError explains why no responder Session could be created for a session-initiate.
type constructError struct {
	reason Reason
	err    error
}

func (ce *constructError) Error() string {
	return fmt.Sprintf("%v: %v", ce.reason, ce.err)
}

func (ce *constructError) Unwrap() error {
	return ce.err
}

// newResponderSession creates a Session from a peer's session-initiate, resolving each Content's components through
// the adapters. An unsupported transport method is not fatal as long as another one is available; this Content's
// fallback is recorded as a PendingTransportReplace and proposed when the session-initiate is handled.
func newResponderSession(req Request, env *environment) (*Session, *constructError) {
	s := newSession(req.Session(), Responder, req.From, env)

	for _, cd := range req.Contents {
		c, cerr := s.responderContent(cd)
		if cerr != nil {
			s.cancel()
			return nil, cerr
		}
		s.addContent(c)
	}

	return s, nil
}

func (s *Session) responderContent(cd ContentDescriptor) (*Content, *constructError) {
	creator := cd.Creator
	if creator == 0 {
		creator = Initiator
	}

	c := newContent(cd.Name, creator, cd.Senders, cd.Disposition)
	c.bind(s.id)

	logger := s.logger.WithField("content", cd.Name)

	d, err := s.env.adapters.Description(cd.Description)
	if errors.Is(err, ErrNoAdapter) {
		return nil, &constructError{ReasonUnsupportedApplications, err}
	} else if err != nil {
		return nil, &constructError{ReasonFailedApplication, err}
	}
	c.setDescription(d)

	if cd.Security != nil {
		sec, err := s.env.adapters.Security(*cd.Security)
		if err != nil {
			logger.WithError(err).Warn("Unsupported security for offered content")
			return nil, &constructError{ReasonSecurityError, err}
		}
		c.SetSecurity(sec)
	}

	t, err := s.env.adapters.Transport(cd.Transport)
	if err == nil {
		c.SetTransport(t)
		return c, nil
	}

	logger.WithError(err).WithField("transport", cd.Transport.Namespace).Info("Offered transport is unusable, looking for a fallback")
	c.addToBlacklist(cd.Transport.Namespace)

	fallback, ferr := s.proposeTransportLocked(c)
	if errors.Is(ferr, ErrNoTransportMethod) {
		return nil, &constructError{ReasonUnsupportedTransports, err}
	} else if ferr != nil {
		return nil, &constructError{ReasonFailedTransport, ferr}
	}

	if perr := s.addPending(PendingTransportReplace{Content: c.name, Transport: fallback}); perr != nil {
		return nil, &constructError{ReasonGeneralError, perr}
	}
	c.setState(ContentPendingTransportReplace)

	logger.WithField("fallback", fallback.Namespace()).Info("Fallback transport chosen")
	return c, nil
}

// newInitiatorSession creates a local Session and the session-initiate Request offering its Contents.
func newInitiatorSession(id SessionID, peer Address, proposals []ContentProposal, env *environment) (*Session, Request, error) {
	s := newSession(id, Initiator, peer, env)

	req := s.request(SessionInitiate)
	for _, p := range proposals {
		if _, exists := s.contents[p.Name]; exists {
			s.cancel()
			return nil, Request{}, fmt.Errorf("content %q is proposed twice", p.Name)
		}

		c, err := s.newLocalContent(p)
		if err != nil {
			s.cancel()
			return nil, Request{}, fmt.Errorf("content %q: %w", p.Name, err)
		}

		cd, err := s.descriptor(c, withEverything, nil)
		if err != nil {
			s.cancel()
			return nil, Request{}, fmt.Errorf("content %q: %w", p.Name, err)
		}

		s.addContent(c)
		req.Contents = append(req.Contents, cd)
	}

	if len(req.Contents) == 0 {
		s.cancel()
		return nil, Request{}, fmt.Errorf("a session needs at least one content")
	}

	s.state = SessionPending
	s.logger.WithFields(log.Fields{
		"contents": req.ContentNames(),
	}).Info("Initiating session")

	return s, req, nil
}
