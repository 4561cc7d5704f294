// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package jingle implements the signaling core of Jingle (XEP-0166), the XMPP protocol for negotiating peer-to-peer
// sessions, as used for out-of-band data exchanges such as file transfers.
//
// The package consumes already parsed Requests and produces Responses. A Manager routes each inbound Request to its
// Session, or creates a new Session for a session-initiate. A Session owns its Contents, each pairing an application
// Description with a Transport and an optional Security layer. Transport failures are recovered by blacklisting the
// failed method and issuing a transport-replace, until no method remains and the session terminates.
//
// Wire encoding, the actual transport methods and the messaging substrate are collaborators behind the Sender,
// Transport, TransportManager and adapter interfaces.
//
//	manager := jingle.NewManager(jingle.ManagerConfig{
//	  Local:      "romeo@montague.example/orchard",
//	  Sender:     substrate,
//	  Adapters:   adapters,
//	  Transports: transports,
//	})
//	resp := manager.Route(req)
package jingle
