// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package filetransfer

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// Policy decides about offered files by their size. It acts as the DescriptionManager for content-add offers.
type Policy struct {
	// MaxSize of an accepted file; zero accepts every size.
	MaxSize uint64
}

func (p *Policy) Namespace() string {
	return Namespace
}

// Acceptable reports whether a Description is an acceptable file offer.
func (p *Policy) Acceptable(d jingle.Description) bool {
	fd, ok := d.(*Description)
	if !ok {
		return false
	}

	offer := fd.Offer()
	if p.MaxSize > 0 && offer.Size > p.MaxSize {
		log.WithFields(log.Fields{
			"file":     offer.Name,
			"size":     offer.Size,
			"max size": p.MaxSize,
		}).Info("Declining oversized file")
		return false
	}
	return true
}

// DecideContent for a content-add offer.
func (p *Policy) DecideContent(_ context.Context, offer jingle.ContentOffer) bool {
	return p.Acceptable(offer.Description)
}

// DecideSession accepts an incoming Session if every Content is an acceptable file offer, otherwise it is declined.
// It fits ManagerConfig.OnIncoming.
func (p *Policy) DecideSession(s *jingle.Session) {
	logger := log.WithFields(log.Fields{
		"session": s.ID().SID,
		"peer":    s.Peer(),
	})

	for _, c := range s.Contents() {
		if !p.Acceptable(c.Description()) {
			logger.WithField("content", c.Name()).Info("Declining incoming session")
			if err := s.Terminate(jingle.ReasonDecline); err != nil {
				logger.WithError(err).Warn("Declining session errored")
			}
			return
		}
	}

	if err := s.Accept(); err != nil {
		logger.WithError(err).Warn("Accepting session errored")
	}
}
