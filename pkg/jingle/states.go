// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import "fmt"

// SessionState is the lifecycle state of a Session.
type SessionState uint

const (
	// SessionFresh is a responder Session which has not yet processed its session-initiate.
	SessionFresh SessionState = iota

	// SessionPending waits for the session-accept.
	SessionPending

	// SessionFallbackPending is a responder Session which could not use a proposed transport method and waits for
	// the answer to its own transport-replace before the session can be accepted.
	SessionFallbackPending

	// SessionActive is an accepted Session.
	SessionActive

	// SessionTerminated is absorbing.
	SessionTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionFresh:
		return "fresh"
	case SessionPending:
		return "pending"
	case SessionFallbackPending:
		return "fallback-pending"
	case SessionActive:
		return "active"
	case SessionTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown-session-state(%d)", uint(s))
	}
}

// ParseSessionState returns the SessionState for its name.
func ParseSessionState(name string) (SessionState, error) {
	for s := SessionFresh; s <= SessionTerminated; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return SessionFresh, fmt.Errorf("unknown session state %q", name)
}

// ContentState is the negotiation and transmission state of a Content.
type ContentState uint

const (
	ContentPendingAccept ContentState = iota
	ContentPendingTransmissionStart
	ContentPendingTransportReplace
	ContentTransmissionInProgress
	ContentTransmissionSuccessful
	ContentTransmissionFailed
	ContentTransmissionCancelled
)

func (s ContentState) String() string {
	switch s {
	case ContentPendingAccept:
		return "pending-accept"
	case ContentPendingTransmissionStart:
		return "pending-transmission-start"
	case ContentPendingTransportReplace:
		return "pending-transport-replace"
	case ContentTransmissionInProgress:
		return "transmission-in-progress"
	case ContentTransmissionSuccessful:
		return "transmission-successful"
	case ContentTransmissionFailed:
		return "transmission-failed"
	case ContentTransmissionCancelled:
		return "transmission-cancelled"
	default:
		return fmt.Sprintf("unknown-content-state(%d)", uint(s))
	}
}

// Terminal reports whether no further transition may leave this state.
func (s ContentState) Terminal() bool {
	switch s {
	case ContentTransmissionSuccessful, ContentTransmissionFailed, ContentTransmissionCancelled:
		return true
	default:
		return false
	}
}
