// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Handle dispatches one inbound Request and returns exactly one Response. Follow-ups within the Response must be sent
// by the caller, each as its own Request.
func (s *Session) Handle(req Request) Response {
	s.mutex.Lock()

	s.logger.WithFields(log.Fields{
		"action": req.Action,
		"state":  s.state,
	}).Debug("Session handles request")

	resp := s.dispatch(req)
	if resp.Error != nil {
		s.logger.WithError(resp.Error).WithField("action", req.Action).Info("Rejected request")
	}

	s.unlockAndFlush()
	return resp
}

// dispatch selects the handler for a Request's Action. The mutex must be held.
func (s *Session) dispatch(req Request) Response {
	switch s.state {
	case SessionTerminated:
		return fail(req, errUnknownSession("session %s is terminated", s.id.SID))

	case SessionFresh:
		if req.Action != SessionInitiate {
			return fail(req, errOutOfOrder("%v before session-initiate", req.Action))
		}
	}

	switch req.Action {
	case SessionInitiate:
		return s.handleSessionInitiate(req)
	case SessionAccept:
		return s.handleSessionAccept(req)
	case SessionTerminate:
		return s.handleSessionTerminate(req)
	case SessionInfo:
		return s.handleSessionInfo(req)

	case ContentAdd:
		return s.handleContentAdd(req)
	case ContentAccept:
		return s.handleContentAccept(req)
	case ContentReject:
		return s.handleContentReject(req)
	case ContentRemove:
		return s.handleContentRemove(req)
	case ContentModify:
		return s.handleContentModify(req)

	case DescriptionInfo:
		return s.handleDescriptionInfo(req)
	case SecurityInfo:
		return s.handleSecurityInfo(req)

	case TransportInfo:
		return s.handleTransportInfo(req)
	case TransportReplace:
		return s.handleTransportReplace(req)
	case TransportAccept:
		return s.handleTransportAccept(req)
	case TransportReject:
		return s.handleTransportReject(req)

	default:
		// The Manager rejects invalid Actions; reaching this is a programming error.
		panic(fmt.Sprintf("jingle: session cannot dispatch action %v", req.Action))
	}
}

func (s *Session) handleSessionInitiate(req Request) Response {
	if s.state != SessionFresh {
		return fail(req, errOutOfOrder("session-initiate for a %v session", s.state))
	}

	var followUps []Request
	for name, pa := range s.pending {
		ptr, ok := pa.(PendingTransportReplace)
		if !ok {
			continue
		}

		replace, err := s.replaceRequest(s.contents[name], ptr.Transport)
		if err != nil {
			s.logger.WithError(err).WithField("content", name).Warn("Serializing fallback transport errored")
			s.terminateLocked(ReasonFailedTransport, false)
			return ack(req, terminateRequest(req, s.local, ReasonFailedTransport))
		}
		followUps = append(followUps, replace)
	}

	if len(followUps) > 0 {
		s.state = SessionFallbackPending
		s.logger.WithField("replacements", len(followUps)).Info("Session pending, proposing fallback transports")
	} else {
		s.state = SessionPending
		s.logger.Info("Session pending")
	}

	return ack(req, followUps...)
}

func (s *Session) handleSessionAccept(req Request) Response {
	if s.role != Initiator || s.state != SessionPending {
		return fail(req, errOutOfOrder("session-accept for a %v session as %v", s.state, s.role))
	}

	cs, perr := s.lookupContents(req)
	if perr != nil {
		return fail(req, perr)
	}

	for i, c := range cs {
		cd := req.Contents[i]
		t := c.Transport()
		if t == nil || cd.Transport.IsZero() {
			continue
		}
		if cd.Transport.Namespace != t.Namespace() {
			return fail(req, errBadRequest("content %q accepted with transport %q instead of %q",
				c.name, cd.Transport.Namespace, t.Namespace()))
		}
	}

	for i, c := range cs {
		if t, p := c.Transport(), req.Contents[i].Transport; t != nil && !p.IsZero() {
			if _, err := t.HandleTransportInfo(p); err != nil {
				s.logger.WithError(err).WithField("content", c.name).Warn("Merging accepted transport errored")
			}
		}
	}

	s.state = SessionActive
	s.logger.Info("Session accepted by peer")

	s.startTransmissionsLocked()
	return ack(req)
}

func (s *Session) handleSessionTerminate(req Request) Response {
	if !req.Reason.Valid() {
		return fail(req, errBadRequest("session-terminate with invalid reason %v", req.Reason))
	}

	s.terminateLocked(req.Reason, false)
	return ack(req)
}

func (s *Session) handleSessionInfo(req Request) Response {
	// An empty session-info is a ping.
	if req.Info == nil {
		return ack(req)
	}
	return fail(req, errUnsupportedInfo("session-info %q", req.Info.Namespace))
}

func (s *Session) handleDescriptionInfo(req Request) Response {
	cs, perr := s.lookupContents(req)
	if perr != nil {
		return fail(req, perr)
	}

	for i, c := range cs {
		d := c.Description()
		if d == nil {
			return fail(req, errUnsupportedInfo("content %q has no description", c.name))
		}
		if err := d.HandleDescriptionInfo(req.Contents[i].Description); err != nil {
			return fail(req, errUnsupportedInfo("description-info for %q: %v", c.name, err))
		}
	}
	return ack(req)
}

func (s *Session) handleSecurityInfo(req Request) Response {
	cs, perr := s.lookupContents(req)
	if perr != nil {
		return fail(req, perr)
	}

	for i, c := range cs {
		sec, p := c.Security(), req.Contents[i].Security
		if sec == nil || p == nil || p.Namespace != sec.Namespace() {
			return fail(req, errUnsupportedInfo("content %q has no matching security", c.name))
		}
		if err := sec.HandleSecurityInfo(*p); err != nil {
			return fail(req, errUnsupportedInfo("security-info for %q: %v", c.name, err))
		}
	}
	return ack(req)
}

func (s *Session) handleTransportInfo(req Request) Response {
	cs, perr := s.lookupContents(req)
	if perr != nil {
		return fail(req, perr)
	}

	var followUps []Request
	for i, c := range cs {
		t, p := c.Transport(), req.Contents[i].Transport
		if t == nil || p.Namespace != t.Namespace() {
			return fail(req, errOutOfOrder("transport-info %q for content %q with another transport", p.Namespace, c.name))
		}

		answer, err := t.HandleTransportInfo(p)
		if err != nil {
			return fail(req, errUnsupportedInfo("transport-info for %q: %v", c.name, err))
		}
		if answer != nil {
			info := s.request(TransportInfo)
			info.Contents = []ContentDescriptor{{
				Name:      c.name,
				Creator:   c.creator,
				Senders:   c.Senders(),
				Transport: *answer,
			}}
			followUps = append(followUps, info)
		}
	}
	return ack(req, followUps...)
}

// handleTransportReplace evaluates each Content on its own and answers with one transport-accept or transport-reject
// per Content.
func (s *Session) handleTransportReplace(req Request) Response {
	cs, perr := s.lookupContents(req)
	if perr != nil {
		return fail(req, perr)
	}
	if perr := finishedContents(req, cs); perr != nil {
		return fail(req, perr)
	}

	var followUps []Request
	for i, c := range cs {
		cd := req.Contents[i]
		ns := cd.Transport.Namespace
		logger := s.logger.WithFields(log.Fields{
			"content":   c.name,
			"transport": ns,
		})

		reject := func(why string) {
			logger.WithField("why", why).Info("Rejecting transport-replace")

			answer := s.request(TransportReject)
			answer.Contents = []ContentDescriptor{{
				Name:      c.name,
				Creator:   c.creator,
				Senders:   c.Senders(),
				Transport: cd.Transport,
			}}
			followUps = append(followUps, answer)
		}

		if pa, ok := s.pending[c.name]; ok {
			// Both parties replaced simultaneously; the initiator's replace wins.
			if s.role == Initiator {
				reject(fmt.Sprintf("own %v is outstanding", pa))
				continue
			}
			logger.WithField("pending", pa).Info("Dropping own pending action for the initiator's transport-replace")
			delete(s.pending, c.name)
		}

		if c.IsBlacklisted(ns) {
			reject("blacklisted")
			continue
		}
		if !s.env.adapters.HasTransport(ns) {
			reject("unsupported")
			continue
		}

		t, err := s.env.adapters.Transport(cd.Transport)
		if err != nil {
			reject(err.Error())
			continue
		}

		c.SetTransport(t)
		c.setState(ContentPendingTransmissionStart)

		cdAccept, err := s.descriptor(c, withTransport, nil)
		if err != nil {
			reject(err.Error())
			continue
		}

		logger.Info("Accepting transport-replace")
		answer := s.request(TransportAccept)
		answer.Contents = []ContentDescriptor{cdAccept}
		followUps = append(followUps, answer)

		if s.state == SessionActive {
			s.establishLocked(c)
		}
	}

	s.leaveFallbackLocked()
	return ack(req, followUps...)
}

// finishedContents refuses transport negotiation for Contents whose transmission already ended.
func finishedContents(req Request, cs []*Content) *ProtocolError {
	for _, c := range cs {
		if state := c.State(); state.Terminal() {
			return errOutOfOrder("%v for content %q in %v", req.Action, c.name, state)
		}
	}
	return nil
}

// pendingReplaces validates that each Content's pending action, if any, is a transport-replace for the answered
// namespace. Contents without a pending action are reported as nil.
func (s *Session) pendingReplaces(req Request, cs []*Content) ([]*PendingTransportReplace, *ProtocolError) {
	ptrs := make([]*PendingTransportReplace, len(cs))
	for i, c := range cs {
		pa, ok := s.pending[c.name]
		if !ok {
			continue
		}

		ptr, ok := pa.(PendingTransportReplace)
		if !ok {
			return nil, errOutOfOrder("%v for content %q while %v is pending", req.Action, c.name, pa)
		}
		if ns := req.Contents[i].Transport.Namespace; ns != "" && ns != ptr.Transport.Namespace() {
			return nil, errOutOfOrder("%v of %q for content %q, but %q was proposed",
				req.Action, ns, c.name, ptr.Transport.Namespace())
		}
		ptrs[i] = &ptr
	}
	return ptrs, nil
}

func (s *Session) handleTransportAccept(req Request) Response {
	cs, perr := s.lookupContents(req)
	if perr != nil {
		return fail(req, perr)
	}
	if perr := finishedContents(req, cs); perr != nil {
		return fail(req, perr)
	}

	ptrs, perr := s.pendingReplaces(req, cs)
	if perr != nil {
		return fail(req, perr)
	}

	for i, c := range cs {
		ptr := ptrs[i]
		if ptr == nil {
			s.logger.WithField("content", c.name).Debug("Ignoring transport-accept without a pending transport-replace")
			continue
		}

		delete(s.pending, c.name)
		c.SetTransport(ptr.Transport)
		if _, err := ptr.Transport.HandleTransportInfo(req.Contents[i].Transport); err != nil {
			s.logger.WithError(err).WithField("content", c.name).Warn("Merging accepted transport errored")
		}
		c.setState(ContentPendingTransmissionStart)

		s.logger.WithFields(log.Fields{
			"content":   c.name,
			"transport": ptr.Transport.Namespace(),
		}).Info("Transport-replace was accepted")

		if s.state == SessionActive {
			s.establishLocked(c)
		}
	}

	s.leaveFallbackLocked()
	return ack(req)
}

func (s *Session) handleTransportReject(req Request) Response {
	cs, perr := s.lookupContents(req)
	if perr != nil {
		return fail(req, perr)
	}
	if perr := finishedContents(req, cs); perr != nil {
		return fail(req, perr)
	}

	ptrs, perr := s.pendingReplaces(req, cs)
	if perr != nil {
		return fail(req, perr)
	}

	var followUps []Request
	for i, c := range cs {
		ptr := ptrs[i]
		if ptr == nil {
			s.logger.WithField("content", c.name).Debug("Ignoring transport-reject without a pending transport-replace")
			continue
		}

		delete(s.pending, c.name)
		c.addToBlacklist(ptr.Transport.Namespace())

		s.logger.WithFields(log.Fields{
			"content":   c.name,
			"transport": ptr.Transport.Namespace(),
		}).Info("Transport-replace was rejected")

		replace, err := s.replaceTransportLocked(c)
		if s.state == SessionTerminated {
			return ack(req)
		} else if err != nil {
			s.logger.WithError(err).WithField("content", c.name).Warn("Proposing another transport errored")
			continue
		}
		followUps = append(followUps, *replace)
	}

	return ack(req, followUps...)
}

// leaveFallbackLocked moves a responder's Session from SessionFallbackPending to SessionPending after all of its
// fallback transports were settled. The mutex must be held.
func (s *Session) leaveFallbackLocked() {
	if s.state != SessionFallbackPending || len(s.pending) > 0 {
		return
	}

	s.state = SessionPending
	s.logger.Info("Fallback transports settled, session pending")

	if s.acceptDeferred {
		if err := s.acceptLocked(); err != nil {
			s.logger.WithError(err).Warn("Deferred session-accept errored")
			s.terminateLocked(ReasonGeneralError, true)
		}
	}
}

// handleContentAdd groups the offered Contents by their application namespace and lets the namespace's
// DescriptionManager decide on each. Namespaces without a DescriptionManager are skipped. The decisions are gathered
// asynchronously and answered by one content-accept and one content-reject.
func (s *Session) handleContentAdd(req Request) Response {
	if s.state != SessionActive {
		return fail(req, errOutOfOrder("content-add for a %v session", s.state))
	}

	groups := make(map[string][]ContentDescriptor)
	var order []string
	for _, cd := range req.Contents {
		ns := cd.Description.Namespace
		if _, ok := groups[ns]; !ok {
			order = append(order, ns)
		}
		groups[ns] = append(groups[ns], cd)
	}

	var (
		offers   []contentDecision
		rejected []*Content
	)
	for _, ns := range order {
		dm, ok := s.env.descriptions.Get(ns)
		if !ok {
			s.logger.WithFields(log.Fields{
				"namespace": ns,
				"contents":  len(groups[ns]),
			}).Warn("No description manager for offered contents, skipping them")
			continue
		}

		for _, cd := range groups[ns] {
			c, err := s.remoteContent(cd)
			if err == nil {
				if _, exists := s.contents[cd.Name]; exists {
					err = fmt.Errorf("content %q already exists", cd.Name)
				} else if _, exists := s.proposed[cd.Name]; exists {
					err = fmt.Errorf("content %q was proposed by both parties", cd.Name)
				}
			}

			if err != nil {
				s.logger.WithError(err).WithField("content", cd.Name).Info("Offered content is unusable")
				if c == nil {
					c = newContent(cd.Name, cd.Creator, cd.Senders, cd.Disposition)
				}
				rejected = append(rejected, c)
				continue
			}

			offers = append(offers, contentDecision{manager: dm, content: c})
		}
	}

	if len(offers) > 0 || len(rejected) > 0 {
		s.later(func() { go s.decideContents(offers, rejected) })
	}
	return ack(req)
}

// contentDecision is an offered Content and the DescriptionManager in charge of it.
type contentDecision struct {
	manager  DescriptionManager
	content  *Content
	accepted bool
}

// decideContents asks the DescriptionManagers concurrently and answers the content-add.
func (s *Session) decideContents(offers []contentDecision, rejected []*Content) {
	var wg sync.WaitGroup
	for i := range offers {
		wg.Add(1)
		go func(d *contentDecision) {
			defer wg.Done()
			d.accepted = d.manager.DecideContent(s.ctx, ContentOffer{
				Session:     s.id,
				Peer:        s.peer,
				Name:        d.content.name,
				Senders:     d.content.Senders(),
				Description: d.content.Description(),
			})
		}(&offers[i])
	}
	wg.Wait()

	s.mutex.Lock()

	if s.state != SessionActive || s.ctx.Err() != nil {
		s.logger.Debug("Discarding content-add decisions of an inactive session")
		s.mutex.Unlock()
		return
	}

	accept := s.request(ContentAccept)
	reject := s.request(ContentReject)

	for _, d := range offers {
		if d.accepted {
			if _, exists := s.contents[d.content.name]; !exists {
				cd, err := s.descriptor(d.content, withEverything, nil)
				if err == nil {
					s.addContent(d.content)
					d.content.setState(ContentPendingTransmissionStart)
					accept.Contents = append(accept.Contents, cd)
					continue
				}
				s.logger.WithError(err).WithField("content", d.content.name).Warn("Serializing accepted content errored")
			}
		}
		rejected = append(rejected, d.content)
	}

	for _, c := range rejected {
		c.setState(ContentTransmissionCancelled)
		reject.Contents = append(reject.Contents, ContentDescriptor{Name: c.name, Creator: c.creator, Senders: c.Senders()})
	}

	if len(accept.Contents) > 0 {
		s.logger.WithField("contents", accept.ContentNames()).Info("Accepting offered contents")
		s.later(func() { s.send(accept) })
	}
	if len(reject.Contents) > 0 {
		s.logger.WithField("contents", reject.ContentNames()).Info("Rejecting offered contents")
		s.later(func() { s.send(reject) })
	}

	for _, cd := range accept.Contents {
		s.establishLocked(s.contents[cd.Name])
	}

	s.unlockAndFlush()
}

func (s *Session) handleContentAccept(req Request) Response {
	if s.state != SessionActive {
		return fail(req, errOutOfOrder("content-accept for a %v session", s.state))
	}

	cs := make([]*Content, 0, len(req.Contents))
	for _, cd := range req.Contents {
		c, ok := s.proposed[cd.Name]
		if !ok {
			s.logger.WithField("content", cd.Name).Error("content-accept references an unproposed content")
			return fail(req, errItemNotFound("content %q was not proposed", cd.Name))
		}
		cs = append(cs, c)
	}

	for i, c := range cs {
		delete(s.proposed, c.name)
		s.addContent(c)

		if t, p := c.Transport(), req.Contents[i].Transport; t != nil && p.Namespace == t.Namespace() {
			if _, err := t.HandleTransportInfo(p); err != nil {
				s.logger.WithError(err).WithField("content", c.name).Warn("Merging accepted transport errored")
			}
		}

		c.setState(ContentPendingTransmissionStart)
		s.establishLocked(c)
	}
	return ack(req)
}

func (s *Session) handleContentReject(req Request) Response {
	for _, cd := range req.Contents {
		if _, ok := s.proposed[cd.Name]; !ok {
			s.logger.WithField("content", cd.Name).Error("content-reject references an unproposed content")
			return fail(req, errItemNotFound("content %q was not proposed", cd.Name))
		}
	}

	for _, cd := range req.Contents {
		c := s.proposed[cd.Name]
		delete(s.proposed, cd.Name)
		c.setState(ContentTransmissionCancelled)
		s.logger.WithField("content", cd.Name).Info("Proposed content was rejected")
	}

	if len(s.contents) == 0 && len(s.proposed) == 0 {
		s.terminateLocked(ReasonCancel, true)
	}
	return ack(req)
}

func (s *Session) handleContentRemove(req Request) Response {
	cs := make([]*Content, 0, len(req.Contents))
	for _, cd := range req.Contents {
		c, ok := s.contents[cd.Name]
		if !ok {
			c, ok = s.proposed[cd.Name]
		}
		if !ok {
			s.logger.WithField("content", cd.Name).Error("content-remove references an unknown content")
			return fail(req, errItemNotFound("unknown content %q", cd.Name))
		}
		cs = append(cs, c)
	}

	for _, c := range cs {
		if s.state == SessionTerminated {
			break
		}
		s.removeContentLocked(c)
	}
	return ack(req)
}

func (s *Session) handleContentModify(req Request) Response {
	cs, perr := s.lookupContents(req)
	if perr != nil {
		return fail(req, perr)
	}

	for i, c := range cs {
		c.setSenders(req.Contents[i].Senders)
		s.logger.WithFields(log.Fields{
			"content": c.name,
			"senders": req.Contents[i].Senders,
		}).Info("Content senders modified")
	}
	return ack(req)
}

// remoteContent creates a Content from a peer's ContentDescriptor by the registered adapters.
func (s *Session) remoteContent(cd ContentDescriptor) (*Content, error) {
	creator := cd.Creator
	if creator == 0 {
		creator = Initiator
	}

	c := newContent(cd.Name, creator, cd.Senders, cd.Disposition)
	c.bind(s.id)

	d, err := s.env.adapters.Description(cd.Description)
	if err != nil {
		return c, err
	}
	c.setDescription(d)

	if cd.Security != nil {
		sec, err := s.env.adapters.Security(*cd.Security)
		if err != nil {
			return c, err
		}
		c.SetSecurity(sec)
	}

	t, err := s.env.adapters.Transport(cd.Transport)
	if err != nil {
		return c, err
	}
	c.SetTransport(t)

	return c, nil
}

// terminateRequest answers a Request with a session-terminate, e.g., for a Session which could not be created.
func terminateRequest(req Request, local Address, reason Reason) Request {
	return Request{
		Action:    SessionTerminate,
		SessionID: req.SessionID,
		Initiator: req.Initiator,
		Responder: req.Responder,
		From:      local,
		To:        req.From,
		Reason:    reason,
	}
}
