// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package filetransfer

import (
	"bytes"
	"fmt"

	"github.com/dtn7/cboring"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// Adapter converts between file transfer Payloads and Descriptions. Descriptions created from the wire receive into
// the IncomingDir.
type Adapter struct {
	IncomingDir string

	// OnReceived is called for each stored file; might be nil.
	OnReceived func(offer Offer, path string)
}

// Register this Adapter at a connection's Registry.
func (a *Adapter) Register(adapters *jingle.Registry) {
	adapters.RegisterDescriptionAdapter(Namespace, a)
}

func (a *Adapter) DescriptionFromWire(p jingle.Payload) (jingle.Description, error) {
	var offer Offer
	if err := cboring.Unmarshal(&offer, bytes.NewReader(p.Data)); err != nil {
		return nil, fmt.Errorf("file offer: %w", err)
	}
	if err := offer.CheckValid(); err != nil {
		return nil, fmt.Errorf("file offer: %w", err)
	}

	return &Description{
		offer:       offer,
		incomingDir: a.IncomingDir,
		onReceived:  a.OnReceived,
	}, nil
}

func (a *Adapter) DescriptionToWire(d jingle.Description) (jingle.Payload, error) {
	fd, ok := d.(*Description)
	if !ok {
		return jingle.Payload{}, fmt.Errorf("file transfer cannot serialize %T", d)
	}

	offer := fd.Offer()
	var buf bytes.Buffer
	if err := cboring.Marshal(&offer, &buf); err != nil {
		return jingle.Payload{}, err
	}
	return jingle.Payload{Namespace: Namespace, Data: buf.Bytes()}, nil
}
