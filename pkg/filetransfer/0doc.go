// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package filetransfer is the Jingle file transfer application.
//
// An Offer describes one file by its name, size, hash and optional compression. The Offer is serialized as CBOR into
// the description Payload. The sending party streams the file, xz compressed if requested, over the established
// bytestream. The receiving party stores it within its incoming directory after verifying size and hash.
//
// A Policy decides about offered files, both for incoming sessions and for content-add offers.
package filetransfer
