// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import "fmt"

// Action is one of the fifteen Jingle actions.
type Action uint

const (
	_ Action = iota

	ContentAccept
	ContentAdd
	ContentModify
	ContentReject
	ContentRemove
	DescriptionInfo
	SessionInfo
	SecurityInfo
	SessionAccept
	TransportAccept
	TransportInfo
	SessionInitiate
	TransportReject
	SessionTerminate
	TransportReplace
)

var actionNames = map[Action]string{
	ContentAccept:    "content-accept",
	ContentAdd:       "content-add",
	ContentModify:    "content-modify",
	ContentReject:    "content-reject",
	ContentRemove:    "content-remove",
	DescriptionInfo:  "description-info",
	SessionInfo:      "session-info",
	SecurityInfo:     "security-info",
	SessionAccept:    "session-accept",
	TransportAccept:  "transport-accept",
	TransportInfo:    "transport-info",
	SessionInitiate:  "session-initiate",
	TransportReject:  "transport-reject",
	SessionTerminate: "session-terminate",
	TransportReplace: "transport-replace",
}

// Valid reports whether this Action is one of the known wire actions.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("unknown-action(%d)", uint(a))
}

// ParseAction returns the Action for its wire name.
func ParseAction(name string) (Action, error) {
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown jingle action %q", name)
}
