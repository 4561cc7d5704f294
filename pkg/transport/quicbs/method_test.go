// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicbs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

func newTestMethod(t *testing.T) *Method {
	m, err := NewMethod(Options{ListenAddress: "127.0.0.1:0", Priority: 10})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestParamsCbor(t *testing.T) {
	p := params{
		token: "token",
		candidates: []*jingle.Candidate{
			{ID: "a", Type: "direct", Host: "192.0.2.1", Port: 4242, Priority: 2},
			{ID: "b", Type: "direct", Host: "2001:db8::1", Port: 4242, Priority: 1},
		},
	}

	data, err := marshalParams(p)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := unmarshalParams(data)
	if err != nil {
		t.Fatal(err)
	}

	if parsed.token != p.token || len(parsed.candidates) != 2 || !parsed.candidates[1].Equal(p.candidates[1]) {
		t.Fatalf("Parameters changed: %v", parsed)
	}

	if _, err := unmarshalParams([]byte{0x80}); err == nil {
		t.Fatal("Empty array was parsed")
	}
}

func TestQuicBytestream(t *testing.T) {
	sender, receiver := newTestMethod(t), newTestMethod(t)

	ref := jingle.ContentRef{Name: "file"}
	out, err := sender.CreateTransport(ref)
	if err != nil {
		t.Fatal(err)
	}

	offer, err := sender.TransportToWire(out)
	if err != nil {
		t.Fatal(err)
	}
	in, err := receiver.TransportFromWire(offer)
	if err != nil {
		t.Fatal(err)
	}

	answer, err := receiver.TransportToWire(in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := out.HandleTransportInfo(answer); err != nil {
		t.Fatal(err)
	}
	if cs := out.TheirCandidates(); len(cs) != 1 || cs[0].Content != ref {
		t.Fatalf("Candidates were not merged: %v", cs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan string, 1)
	go func() {
		stream, err := in.EstablishIncomingBytestream(ctx)
		if err != nil {
			received <- err.Error()
			return
		}
		buf, _ := io.ReadAll(stream)
		_ = stream.Close()
		received <- string(buf)
	}()

	stream, err := out.EstablishOutgoingBytestream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Write([]byte("over quic")); err != nil {
		t.Fatal(err)
	}
	if err := stream.Close(); err != nil {
		t.Fatal(err)
	}

	if msg := <-received; msg != "over quic" {
		t.Fatalf("Received %q", msg)
	}
}

func TestQuicUnreachable(t *testing.T) {
	m := newTestMethod(t)

	tr, err := m.CreateTransport(jingle.ContentRef{Name: "file"})
	if err != nil {
		t.Fatal(err)
	}

	var te *jingle.TransportError
	if _, err := tr.EstablishOutgoingBytestream(context.Background()); !errors.As(err, &te) {
		t.Fatalf("Expected a transport error without candidates, got %v", err)
	}

	tr.AddTheirCandidate(&jingle.Candidate{ID: "gone", Host: "127.0.0.1", Port: 1, Priority: 1})
	if _, err := tr.EstablishOutgoingBytestream(context.Background()); !errors.As(err, &te) {
		t.Fatalf("Expected a transport error for an unreachable candidate, got %v", err)
	}
}

func TestQuicUnknownToken(t *testing.T) {
	m := newTestMethod(t)

	tr, err := m.CreateTransport(jingle.ContentRef{Name: "file"})
	if err != nil {
		t.Fatal(err)
	}
	known := tr.(*Transport).token

	stranger := &Transport{method: m, token: "unknown"}
	stranger.AddTheirCandidate(tr.OurCandidates()[0])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := stranger.EstablishOutgoingBytestream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if _, err := io.ReadAll(stream); err == nil {
		t.Fatal("Stream for an unknown token was not closed with an error")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.slots["unknown"]; ok {
		t.Fatal("Unknown token got a slot")
	}
	if _, ok := m.slots[known]; !ok {
		t.Fatal("Known token lost its slot")
	}
}
