// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package substrate contains messaging substrates for Jingle Managers and the CBOR codec of their frames.
//
// A substrate is a Manager's Sender and delivers the peer's Requests to the Manager's Route, one at a time and in
// their order. The Loopback links two Managers in one process; the ws subpackage links them over a WebSocket.
package substrate
