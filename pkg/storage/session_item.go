// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"time"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// SessionItem is the stored representation of a jingle.SessionSnapshot. Each Session has exactly one SessionItem,
// updated by later snapshots.
type SessionItem struct {
	Id string `badgerhold:"key" json:"id"`

	Initiator jingle.Address `json:"initiator"`
	Responder jingle.Address `json:"responder"`
	SID       string         `json:"sid"`

	Peer  jingle.Address `badgerholdIndex:"Peer" json:"peer"`
	Role  string         `json:"role"`
	State string         `badgerholdIndex:"State" json:"state"`

	// Reason is empty while the Session is alive.
	Reason string `json:"reason,omitempty"`

	Created    time.Time `json:"created"`
	Terminated time.Time `json:"terminated"`
	Updated    time.Time `json:"updated"`

	Contents []ContentItem `json:"contents"`
}

// ContentItem is the stored representation of a jingle.ContentSnapshot.
type ContentItem struct {
	Name        string   `json:"name"`
	Creator     string   `json:"creator"`
	Senders     string   `json:"senders"`
	State       string   `json:"state"`
	Description string   `json:"description"`
	Transport   string   `json:"transport"`
	Blacklist   []string `json:"blacklist,omitempty"`
	Pending     string   `json:"pending,omitempty"`
	Proposed    bool     `json:"proposed,omitempty"`
}

// itemKey of the SessionItem for a Session, identified by its peer and session id.
func itemKey(peer jingle.Address, sid string) string {
	return string(peer) + "/" + sid
}

// NewSessionItem converts a SessionSnapshot.
func NewSessionItem(snap jingle.SessionSnapshot) SessionItem {
	si := SessionItem{
		Id: itemKey(snap.Peer, snap.ID.SID),

		Initiator: snap.ID.Initiator,
		Responder: snap.ID.Responder,
		SID:       snap.ID.SID,

		Peer:  snap.Peer,
		Role:  snap.Role.String(),
		State: snap.State.String(),

		Created:    snap.Created,
		Terminated: snap.Terminated,
		Updated:    time.Now(),
	}

	if snap.State == jingle.SessionTerminated {
		si.Reason = snap.Reason.String()
	}

	for _, cs := range snap.Contents {
		si.Contents = append(si.Contents, ContentItem{
			Name:        cs.Name,
			Creator:     cs.Creator.String(),
			Senders:     cs.Senders.String(),
			State:       cs.State.String(),
			Description: cs.Description,
			Transport:   cs.Transport,
			Blacklist:   cs.Blacklist,
			Pending:     cs.Pending,
			Proposed:    cs.Proposed,
		})
	}

	return si
}

// IsTerminated checks if the recorded Session was terminated.
func (si SessionItem) IsTerminated() bool {
	return si.State == jingle.SessionTerminated.String()
}
