// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"context"
	"sync"
)

// ContentOffer is a Content proposed by the peer through a content-add, to be accepted or rejected locally.
type ContentOffer struct {
	Session     SessionID
	Peer        Address
	Name        string
	Senders     Senders
	Description Description
}

// DescriptionManager decides on content-add offers for one application namespace.
type DescriptionManager interface {
	Namespace() string

	// DecideContent returns true to accept the offered Content. It might block, e.g., to ask a user, but must honor
	// the context's cancellation.
	DecideContent(ctx context.Context, offer ContentOffer) bool
}

// DescriptionManagers maps application namespaces to their DescriptionManager.
type DescriptionManagers struct {
	mutex    sync.RWMutex
	managers map[string]DescriptionManager
}

// NewDescriptionManagers creates an empty registry.
func NewDescriptionManagers() *DescriptionManagers {
	return &DescriptionManagers{managers: make(map[string]DescriptionManager)}
}

// Register a DescriptionManager for its namespace.
func (dms *DescriptionManagers) Register(dm DescriptionManager) {
	dms.mutex.Lock()
	defer dms.mutex.Unlock()

	dms.managers[dm.Namespace()] = dm
}

// Get the DescriptionManager for a namespace.
func (dms *DescriptionManagers) Get(namespace string) (DescriptionManager, bool) {
	dms.mutex.RLock()
	defer dms.mutex.RUnlock()

	dm, ok := dms.managers[namespace]
	return dm, ok
}
