// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package jingle

import "fmt"

// PendingAction is an action issued by this side, waiting for the peer's confirmation. At most one PendingAction may
// exist for a Content.
type PendingAction interface {
	// ContentName this action belongs to.
	ContentName() string

	fmt.Stringer
}

// PendingTransportReplace records an outstanding transport-replace and the Transport to install on acceptance.
type PendingTransportReplace struct {
	Content   string
	Transport Transport
}

func (ptr PendingTransportReplace) ContentName() string {
	return ptr.Content
}

func (ptr PendingTransportReplace) String() string {
	return fmt.Sprintf("transport-replace(%s -> %s)", ptr.Content, ptr.Transport.Namespace())
}
