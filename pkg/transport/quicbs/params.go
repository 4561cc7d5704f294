// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicbs

import (
	"bytes"
	"fmt"

	"github.com/dtn7/cboring"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// params are the wire parameters of a Transport: a CBOR array of the token and the Candidates.
type params struct {
	token      string
	candidates []*jingle.Candidate
}

func marshalParams(p params) ([]byte, error) {
	var buf bytes.Buffer

	if err := cboring.WriteArrayLength(2, &buf); err != nil {
		return nil, err
	}
	if err := cboring.WriteTextString(p.token, &buf); err != nil {
		return nil, err
	}
	if err := jingle.MarshalCandidates(p.candidates, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalParams(data []byte) (p params, err error) {
	r := bytes.NewReader(data)

	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 2 {
		err = fmt.Errorf("expected array of two elements, got %d", n)
		return
	}

	if p.token, err = cboring.ReadTextString(r); err != nil {
		return
	} else if p.token == "" {
		err = fmt.Errorf("empty token")
		return
	}

	p.candidates, err = jingle.UnmarshalCandidates(r)
	return
}
