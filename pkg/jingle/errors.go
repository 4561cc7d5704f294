// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import "errors"

var (
	// ErrPendingActionExists is returned when a Content already awaits the answer to an earlier action.
	ErrPendingActionExists = errors.New("content already has a pending action")

	// ErrUnknownContent is returned for a content name not present in a Session.
	ErrUnknownContent = errors.New("unknown content")

	// ErrSessionTerminated is returned by local operations on a terminated Session.
	ErrSessionTerminated = errors.New("session is terminated")

	// ErrWrongState is returned by local operations which are not allowed in a Session's current state.
	ErrWrongState = errors.New("operation not allowed in the session's state")

	// ErrNilBytestream is a Transport's contract violation, reporting success without a bytestream.
	ErrNilBytestream = errors.New("transport reported success without a bytestream")

	// ErrNoTransportMethod is returned if every transport method is blacklisted or none is registered.
	ErrNoTransportMethod = errors.New("no transport method available")

	// ErrNoAdapter is returned if no adapter is registered for a namespace.
	ErrNoAdapter = errors.New("no adapter registered for namespace")

	// ErrSessionExists is returned when a Session with the same key is already registered.
	ErrSessionExists = errors.New("session already registered")
)
