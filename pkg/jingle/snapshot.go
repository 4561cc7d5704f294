// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import (
	"sort"
	"time"
)

// ContentSnapshot is the inspectable state of a Content.
type ContentSnapshot struct {
	Name        string
	Creator     Role
	Senders     Senders
	State       ContentState
	Description string
	Transport   string
	Blacklist   []string
	Pending     string

	// Proposed marks a locally proposed Content, not yet accepted by the peer.
	Proposed bool
}

// SessionSnapshot is the inspectable state of a Session, e.g., its termination reason.
type SessionSnapshot struct {
	ID         SessionID
	Role       Role
	Peer       Address
	State      SessionState
	Reason     Reason
	Created    time.Time
	Terminated time.Time

	Contents []ContentSnapshot
}

func sortContentSnapshots(cs []ContentSnapshot) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}

// Journal records SessionSnapshots, e.g., on creation and termination of a Session.
type Journal interface {
	Record(snap SessionSnapshot) error
}
