// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import "fmt"

// Reason is the closed set of session-terminate reasons. The zero value is no reason.
type Reason uint

const (
	NoReason Reason = iota

	ReasonAlternativeSession
	ReasonBusy
	ReasonCancel
	ReasonConnectivityError
	ReasonDecline
	ReasonExpired
	ReasonFailedApplication
	ReasonFailedTransport
	ReasonGeneralError
	ReasonGone
	ReasonIncompatibleParameters
	ReasonMediaError
	ReasonSecurityError
	ReasonSuccess
	ReasonTimeout
	ReasonUnsupportedApplications
	ReasonUnsupportedTransports
)

var reasonNames = map[Reason]string{
	ReasonAlternativeSession:      "alternative-session",
	ReasonBusy:                    "busy",
	ReasonCancel:                  "cancel",
	ReasonConnectivityError:       "connectivity-error",
	ReasonDecline:                 "decline",
	ReasonExpired:                 "expired",
	ReasonFailedApplication:       "failed-application",
	ReasonFailedTransport:         "failed-transport",
	ReasonGeneralError:            "general-error",
	ReasonGone:                    "gone",
	ReasonIncompatibleParameters:  "incompatible-parameters",
	ReasonMediaError:              "media-error",
	ReasonSecurityError:           "security-error",
	ReasonSuccess:                 "success",
	ReasonTimeout:                 "timeout",
	ReasonUnsupportedApplications: "unsupported-applications",
	ReasonUnsupportedTransports:   "unsupported-transports",
}

// Valid reports whether this Reason is part of the wire enumeration. NoReason is not.
func (r Reason) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

func (r Reason) String() string {
	if r == NoReason {
		return "none"
	}
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("unknown-reason(%d)", uint(r))
}

// ParseReason returns the Reason for its wire name.
func ParseReason(name string) (Reason, error) {
	for r, n := range reasonNames {
		if n == name {
			return r, nil
		}
	}
	return NoReason, fmt.Errorf("unknown jingle reason %q", name)
}
