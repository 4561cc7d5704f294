// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// establishLocked starts an asynchronous bytestream establishment for a Content. Its result is only applied if the
// Session, the Content and its Transport are still the same. The mutex must be held.
func (s *Session) establishLocked(c *Content) {
	t := c.Transport()
	if t == nil {
		return
	}

	if !c.IsSending(s.role) && !c.IsReceiving(s.role) {
		s.logger.WithField("content", c.name).Debug("Content has no senders, skipping establishment")
		return
	}

	// With both parties sending, the initiator opens the bytestream.
	outgoing := c.IsSending(s.role) && (!c.IsReceiving(s.role) || s.role == Initiator)
	attempt, ctx := c.nextAttempt(s.ctx)

	logger := s.logger.WithFields(log.Fields{
		"content":   c.name,
		"transport": t.Namespace(),
		"outgoing":  outgoing,
		"attempt":   attempt,
	})

	s.later(func() {
		go func() {
			logger.Debug("Establishing bytestream")

			var (
				stream Bytestream
				err    error
			)
			if outgoing {
				stream, err = t.EstablishOutgoingBytestream(ctx)
			} else {
				stream, err = t.EstablishIncomingBytestream(ctx)
			}

			s.onEstablished(ctx, c, t, attempt, stream, err)
		}()
	})
}

// onEstablished receives the result of an establishment started by establishLocked.
func (s *Session) onEstablished(ctx context.Context, c *Content, t Transport, attempt uint64, stream Bytestream, err error) {
	s.mutex.Lock()

	if s.state == SessionTerminated || s.ctx.Err() != nil ||
		s.contents[c.name] != c || c.Transport() != t || !c.isAttempt(attempt) {
		s.mutex.Unlock()

		s.logger.WithFields(log.Fields{
			"content":   c.name,
			"transport": t.Namespace(),
		}).Debug("Ignoring outdated bytestream establishment")

		if stream != nil {
			_ = stream.Close()
		}
		return
	}

	if err != nil {
		s.onTransportFailedLocked(c, t, err)
	} else {
		s.onTransportReadyLocked(ctx, c, attempt, stream)
	}

	s.unlockAndFlush()
}

// onTransportReadyLocked hands an established Bytestream to the Content's Description. The mutex must be held.
func (s *Session) onTransportReadyLocked(ctx context.Context, c *Content, attempt uint64, stream Bytestream) {
	logger := s.logger.WithField("content", c.name)

	if stream == nil {
		logger.WithError(ErrNilBytestream).Error("Transport violated its contract")
		c.setState(ContentTransmissionFailed)
		s.checkCompletionLocked()
		return
	}

	d := c.Description()
	if d == nil {
		logger.Error("Content has no description to hand the bytestream to")
		_ = stream.Close()
		c.setState(ContentTransmissionFailed)
		s.checkCompletionLocked()
		return
	}

	c.setState(ContentTransmissionInProgress)
	sending := c.IsSending(s.role)

	logger.WithField("sending", sending).Info("Bytestream established, starting transmission")

	s.later(func() {
		go func() {
			err := d.OnBytestream(ctx, stream, sending)
			s.onTransmitted(c, attempt, err)
		}()
	})
}

// onTransmitted receives the Description's result of a transmission.
func (s *Session) onTransmitted(c *Content, attempt uint64, err error) {
	s.mutex.Lock()

	if s.state == SessionTerminated || s.contents[c.name] != c || !c.isAttempt(attempt) {
		s.mutex.Unlock()
		return
	}

	logger := s.logger.WithField("content", c.name)
	if err != nil {
		logger.WithError(err).Warn("Transmission failed")
		c.setState(ContentTransmissionFailed)
	} else {
		logger.Info("Transmission finished")
		c.setState(ContentTransmissionSuccessful)
	}
	c.finishAttempt()

	s.checkCompletionLocked()
	s.unlockAndFlush()
}

// checkCompletionLocked terminates an active Session after all of its Contents became terminal. Only the receiving
// party knows about a completed transmission, thus only it terminates. The mutex must be held.
func (s *Session) checkCompletionLocked() {
	if s.state != SessionActive || len(s.contents) == 0 || len(s.proposed) > 0 {
		return
	}

	receiving, failed := false, false
	for _, c := range s.contents {
		if !c.State().Terminal() {
			return
		}
		receiving = receiving || c.IsReceiving(s.role)
		failed = failed || c.State() != ContentTransmissionSuccessful
	}

	if !receiving {
		s.logger.Debug("All contents are finished, waiting for the receiver's session-terminate")
		return
	}

	if failed {
		s.terminateLocked(ReasonFailedApplication, true)
	} else {
		s.terminateLocked(ReasonSuccess, true)
	}
}

// onTransportFailedLocked blacklists the failed transport method. The initiator tries to replace it, while the
// responder waits for the initiator's transport-replace. The mutex must be held.
func (s *Session) onTransportFailedLocked(c *Content, t Transport, err error) {
	s.logger.WithError(err).WithFields(log.Fields{
		"content":   c.name,
		"transport": t.Namespace(),
	}).Warn("Bytestream establishment failed")

	c.finishAttempt()
	c.addToBlacklist(t.Namespace())
	c.setState(ContentPendingTransportReplace)

	if s.role != Initiator {
		return
	}

	if req, replaceErr := s.replaceTransportLocked(c); replaceErr != nil {
		s.logger.WithError(replaceErr).WithField("content", c.name).Debug("No transport-replace was issued")
	} else if req != nil {
		replace := *req
		s.later(func() { s.send(replace) })
	}
}

// replaceTransportLocked proposes the best non-blacklisted transport method for a Content and records the
// PendingAction. If no method remains, the whole Session is terminated with failed-transport and no Request is
// returned. The mutex must be held.
func (s *Session) replaceTransportLocked(c *Content) (*Request, error) {
	if _, ok := s.pending[c.name]; ok {
		return nil, ErrPendingActionExists
	}

	t, err := s.proposeTransportLocked(c)
	if errors.Is(err, ErrNoTransportMethod) {
		s.logger.WithFields(log.Fields{
			"content":   c.name,
			"blacklist": c.Blacklist(),
		}).Warn("All transport methods failed")

		s.terminateLocked(ReasonFailedTransport, true)
		return nil, err
	} else if err != nil {
		return nil, err
	}

	req, err := s.replaceRequest(c, t)
	if err != nil {
		return nil, err
	}

	if err := s.addPending(PendingTransportReplace{Content: c.name, Transport: t}); err != nil {
		return nil, err
	}
	c.setState(ContentPendingTransportReplace)

	s.logger.WithFields(log.Fields{
		"content":   c.name,
		"transport": t.Namespace(),
	}).Info("Proposing transport-replace")

	return &req, nil
}

// proposeTransportLocked creates a Transport of the best transport method, excluding the Content's blacklist. A
// method which cannot create or serialize its Transport is blacklisted as well. The mutex must be held.
func (s *Session) proposeTransportLocked(c *Content) (Transport, error) {
	for {
		tm, ok := s.env.transports.Best(c.blacklistSet())
		if !ok {
			return nil, ErrNoTransportMethod
		}

		t, err := tm.CreateTransport(c.Ref())
		if err == nil && !s.env.adapters.HasTransport(t.Namespace()) {
			err = fmt.Errorf("transport %q: %w", t.Namespace(), ErrNoAdapter)
		}
		if err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"content":   c.name,
				"transport": tm.Namespace(),
			}).Warn("Transport method is unusable, blacklisting it")

			c.addToBlacklist(tm.Namespace())
			continue
		}

		return t, nil
	}
}

// replaceRequest creates a transport-replace Request for a Content proposing the given Transport.
func (s *Session) replaceRequest(c *Content, t Transport) (req Request, err error) {
	cd, err := s.descriptor(c, withTransport, t)
	if err != nil {
		return
	}

	req = s.request(TransportReplace)
	req.Contents = []ContentDescriptor{cd}
	return
}
