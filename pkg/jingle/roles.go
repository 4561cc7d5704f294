// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import "fmt"

// Role of a party within a Session. It is also used as a Content's creator.
type Role uint

const (
	_ Role = iota

	Initiator
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return fmt.Sprintf("unknown-role(%d)", uint(r))
	}
}

// Valid reports whether this Role is Initiator or Responder.
func (r Role) Valid() bool {
	return r == Initiator || r == Responder
}

// Opposite returns the other party's Role.
func (r Role) Opposite() Role {
	if r == Initiator {
		return Responder
	}
	return Initiator
}

// ParseRole returns the Role for its wire name.
func ParseRole(name string) (Role, error) {
	switch name {
	case "initiator":
		return Initiator, nil
	case "responder":
		return Responder, nil
	default:
		return 0, fmt.Errorf("unknown jingle role %q", name)
	}
}

// Senders names the parties which may transmit data over a Content.
type Senders uint

const (
	// SendersBoth is the zero value, as it is the protocol's default.
	SendersBoth Senders = iota
	SendersInitiator
	SendersResponder
	SendersNone
)

func (s Senders) String() string {
	switch s {
	case SendersBoth:
		return "both"
	case SendersInitiator:
		return "initiator"
	case SendersResponder:
		return "responder"
	case SendersNone:
		return "none"
	default:
		return fmt.Sprintf("unknown-senders(%d)", uint(s))
	}
}

// Valid reports whether this Senders value is part of the wire enumeration.
func (s Senders) Valid() bool {
	return s <= SendersNone
}

// Includes reports whether the party in the given Role may send.
func (s Senders) Includes(role Role) bool {
	switch s {
	case SendersBoth:
		return true
	case SendersInitiator:
		return role == Initiator
	case SendersResponder:
		return role == Responder
	default:
		return false
	}
}

// ParseSenders returns the Senders for its wire name.
func ParseSenders(name string) (Senders, error) {
	for s := SendersBoth; s <= SendersNone; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown jingle senders %q", name)
}
