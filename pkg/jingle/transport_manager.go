// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// TransportManager creates local Transport instances of one transport method.
type TransportManager interface {
	// Namespace of the transport method.
	Namespace() string

	// Priority of this method when selecting the best available one; higher is better.
	Priority() int

	// CreateTransport for a Content, populated with this side's Candidates.
	CreateTransport(ref ContentRef) (Transport, error)
}

// TransportManagers is the registry of the locally available transport methods.
type TransportManagers struct {
	// managers: Map[string]TransportManager
	managers *sync.Map
}

// NewTransportManagers creates an empty registry.
func NewTransportManagers() *TransportManagers {
	return &TransportManagers{managers: new(sync.Map)}
}

// Register a TransportManager. A manager for an already known namespace replaces the previous one.
func (tms *TransportManagers) Register(tm TransportManager) {
	if _, loaded := tms.managers.Load(tm.Namespace()); loaded {
		log.WithField("namespace", tm.Namespace()).Info("Replaced transport manager")
	} else {
		log.WithFields(log.Fields{
			"namespace": tm.Namespace(),
			"priority":  tm.Priority(),
		}).Debug("Registered transport manager")
	}
	tms.managers.Store(tm.Namespace(), tm)
}

// Unregister the TransportManager of a namespace.
func (tms *TransportManagers) Unregister(namespace string) {
	tms.managers.Delete(namespace)
}

// Get the TransportManager for a namespace.
func (tms *TransportManagers) Get(namespace string) (TransportManager, bool) {
	tm, ok := tms.managers.Load(namespace)
	if !ok {
		return nil, false
	}
	return tm.(TransportManager), true
}

// Best returns the TransportManager with the highest priority whose namespace is not excluded. Ties are broken by
// the namespace's lexical order to stay deterministic.
func (tms *TransportManagers) Best(excluding map[string]struct{}) (best TransportManager, ok bool) {
	tms.managers.Range(func(ns, tm interface{}) bool {
		if _, excluded := excluding[ns.(string)]; excluded {
			return true
		}

		candidate := tm.(TransportManager)
		if !ok || candidate.Priority() > best.Priority() ||
			(candidate.Priority() == best.Priority() && candidate.Namespace() < best.Namespace()) {
			best, ok = candidate, true
		}
		return true
	})
	return
}
