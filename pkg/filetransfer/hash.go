// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package filetransfer

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Supported hash algorithms, named as in the XMPP hash registry.
const (
	SHA256    = "sha-256"
	Blake3256 = "blake3-256"
)

func newHasher(algo string) (hash.Hash, error) {
	switch algo {
	case SHA256:
		return sha256.New(), nil
	case Blake3256:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

// Hash is a file's digest by some algorithm.
type Hash struct {
	Algo  string
	Value []byte
}

// IsZero reports an absent Hash.
func (h Hash) IsZero() bool {
	return h.Algo == "" && len(h.Value) == 0
}

func (h Hash) String() string {
	return fmt.Sprintf("%s:%x", h.Algo, h.Value)
}

// hashFile computes a file's size and Hash.
func hashFile(path, algo string) (size uint64, h Hash, err error) {
	hasher, err := newHasher(algo)
	if err != nil {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	n, err := io.Copy(hasher, f)
	if err != nil {
		return
	}

	return uint64(n), Hash{Algo: algo, Value: hasher.Sum(nil)}, nil
}
