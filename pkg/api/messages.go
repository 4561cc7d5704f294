// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import "github.com/jingle-go/jingle-go/pkg/storage"

// SessionsResponse describes a JSON response for GET /sessions and /journal.
type SessionsResponse struct {
	Error    string                `json:"error,omitempty"`
	Sessions []storage.SessionItem `json:"sessions"`
}

// SessionResponse describes a JSON response for GET /sessions/{sid}?peer={peer}.
type SessionResponse struct {
	Error   string               `json:"error,omitempty"`
	Session *storage.SessionItem `json:"session,omitempty"`
}

// TerminateRequest describes a JSON to be POSTed to /sessions/{sid}/terminate?peer={peer}.
type TerminateRequest struct {
	Reason string `json:"reason"`
}

// TerminateResponse describes a JSON response for /sessions/{sid}/terminate?peer={peer}.
type TerminateResponse struct {
	Error string `json:"error,omitempty"`
}

// OfferRequest describes a JSON to be POSTed to /offer.
type OfferRequest struct {
	Peer string `json:"peer"`
	Path string `json:"path"`
}

// OfferResponse describes a JSON response for /offer.
type OfferResponse struct {
	Error string `json:"error,omitempty"`
	SID   string `json:"sid,omitempty"`
}

// DeleteResponse describes a JSON response for DELETE /journal/{sid}?peer={peer}.
type DeleteResponse struct {
	Error string `json:"error,omitempty"`
}
